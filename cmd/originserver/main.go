// Command originserver starts the HTTP/1.1 origin server.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/yourusername/originserver/pkg/origin/config"
	"github.com/yourusername/originserver/pkg/origin/loop"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("originserver", pflag.ContinueOnError)
	showVersion := flags.Bool("version", false, "print version and exit")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: originserver [config-path]")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Println("originserver " + version)
		return 0
	}

	configPath := "config/default.conf"
	if rest := flags.Args(); len(rest) > 0 {
		configPath = rest[0]
	}

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "originserver: logger init failed:", err)
		return 1
	}
	defer log.Sync()

	content, err := os.ReadFile(configPath)
	if err != nil {
		log.Error("failed to read config", zap.String("path", configPath), zap.Error(err))
		return 1
	}

	cfg, err := config.Load(string(content))
	if err != nil {
		log.Error("failed to parse config", zap.String("path", configPath), zap.Error(err))
		return 1
	}

	l, err := loop.New(cfg, log.Named("loop"))
	if err != nil {
		log.Error("failed to start event loop", zap.Error(err))
		return 1
	}

	printStartupBanner(cfg)
	log.Info("originserver starting", zap.String("config", configPath), zap.Int("servers", len(cfg.Servers)))

	stopCh := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stopCh)
	}()

	if err := l.Run(stopCh); err != nil {
		log.Error("event loop exited with error", zap.Error(err))
		return 1
	}

	log.Info("originserver stopped")
	return 0
}

// printStartupBanner prints the version, one line per loaded server
// (host, ports, root, route count), then the "Starting server…"
// message, to stdout ahead of the structured startup log line.
func printStartupBanner(cfg *config.Config) {
	fmt.Println("originserver " + version)
	for _, sc := range cfg.Servers {
		host := sc.Host
		if host == "" {
			host = "0.0.0.0"
		}
		fmt.Printf("  server %s ports=%v root=%s routes=%d\n", host, sc.Ports, sc.Root, len(sc.Routes))
	}
	fmt.Println("Starting server…")
}
