package config

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// Load reads and parses a directive file into a validated Config.
// Syntax is nginx-like: "server { ... }" blocks containing
// directives and nested "location <path> { ... }" blocks.
//
// Each directive line is tokenized with github.com/mattn/go-shellwords
// (a real dependency pulled from docker-compose's go.mod, which uses it
// to tokenize shell fragments) rather than strings.Fields, so a quoted
// path argument containing spaces — e.g. `root "my site/public";` —
// tokenizes correctly instead of splitting mid-path.
func Load(content string) (*Config, error) {
	lines := splitDirectiveLines(content)

	cfg := &Config{}
	i := 0
	for i < len(lines) {
		line := lines[i]
		if line == "" {
			i++
			continue
		}
		tokens, err := tokenize(line)
		if err != nil {
			return nil, fmt.Errorf("config: line %q: %w", line, err)
		}
		if len(tokens) >= 2 && tokens[0] == "server" && tokens[len(tokens)-1] == "{" {
			block, next, err := collectBlock(lines, i+1)
			if err != nil {
				return nil, err
			}
			s, err := parseServerBlock(block)
			if err != nil {
				return nil, err
			}
			cfg.Servers = append(cfg.Servers, s)
			i = next
			continue
		}
		// Unknown top-level directive: ignored.
		i++
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitDirectiveLines strips comments (# to end of line) and blank
// lines, returning one trimmed line per directive/brace.
func splitDirectiveLines(content string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		line = strings.TrimSuffix(line, ";")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func tokenize(line string) ([]string, error) {
	parser := shellwords.NewParser()
	return parser.Parse(line)
}

// collectBlock gathers every line between the opening "{" (already
// consumed by the caller) and its matching "}", tracking nested braces
// so a location block's own "}" doesn't end the server block early.
func collectBlock(lines []string, start int) (block []string, next int, err error) {
	depth := 1
	for i := start; i < len(lines); i++ {
		line := lines[i]
		if line == "}" {
			depth--
			if depth == 0 {
				return block, i + 1, nil
			}
			block = append(block, line)
			continue
		}
		if strings.HasSuffix(line, "{") {
			depth++
		}
		block = append(block, line)
	}
	return nil, 0, fmt.Errorf("config: unterminated block")
}

func parseServerBlock(lines []string) (*ServerConfig, error) {
	s := &ServerConfig{ErrorPages: make(map[int]string)}

	i := 0
	for i < len(lines) {
		line := lines[i]
		tokens, err := tokenize(line)
		if err != nil {
			return nil, fmt.Errorf("config: line %q: %w", line, err)
		}
		if len(tokens) == 0 {
			i++
			continue
		}

		if tokens[0] == "location" && tokens[len(tokens)-1] == "{" {
			if len(tokens) < 3 {
				return nil, fmt.Errorf("config: malformed location directive %q", line)
			}
			path := tokens[1]
			block, next, err := collectBlock(lines, i+1)
			if err != nil {
				return nil, err
			}
			route, err := parseLocationBlock(path, block)
			if err != nil {
				return nil, err
			}
			s.Routes = append(s.Routes, route)
			i = next
			continue
		}

		if err := applyServerDirective(s, tokens); err != nil {
			return nil, err
		}
		i++
	}

	return s, nil
}

func applyServerDirective(s *ServerConfig, tokens []string) error {
	switch tokens[0] {
	case "listen":
		if len(tokens) < 2 {
			return fmt.Errorf("config: listen requires a port")
		}
		port, err := strconv.Atoi(tokens[1])
		if err != nil {
			return fmt.Errorf("config: invalid listen port %q: %w", tokens[1], err)
		}
		s.Ports = append(s.Ports, port)
	case "server_name":
		if len(tokens) >= 2 {
			s.ServerName = tokens[1]
		}
	case "host":
		if len(tokens) >= 2 {
			s.Host = tokens[1]
		}
	case "root":
		if len(tokens) >= 2 {
			s.Root = tokens[1]
		}
	case "client_max_body_size":
		if len(tokens) < 2 {
			return fmt.Errorf("config: client_max_body_size requires a value")
		}
		n, err := parseSize(tokens[1])
		if err != nil {
			return err
		}
		s.MaxBodySize = n
	case "timeout":
		if len(tokens) < 2 {
			return fmt.Errorf("config: timeout requires a value")
		}
		secs, err := strconv.Atoi(tokens[1])
		if err != nil {
			return fmt.Errorf("config: invalid timeout %q: %w", tokens[1], err)
		}
		s.Timeout = time.Duration(secs) * time.Second
	case "error_page":
		if len(tokens) < 3 {
			return fmt.Errorf("config: error_page requires a code and a path")
		}
		code, err := strconv.Atoi(tokens[1])
		if err != nil {
			return fmt.Errorf("config: invalid error_page code %q: %w", tokens[1], err)
		}
		s.ErrorPages[code] = tokens[2]
	default:
		// Unknown directive: ignored.
	}
	return nil
}

func parseLocationBlock(path string, lines []string) (*Route, error) {
	route := &Route{Path: path, Methods: map[string]bool{}, CGI: map[string]string{}}

	for _, line := range lines {
		tokens, err := tokenize(line)
		if err != nil {
			return nil, fmt.Errorf("config: line %q: %w", line, err)
		}
		if len(tokens) == 0 {
			continue
		}
		switch tokens[0] {
		case "methods", "allow_methods":
			for _, m := range tokens[1:] {
				route.Methods[strings.ToUpper(m)] = true
			}
		case "root":
			if len(tokens) >= 2 {
				route.Root = tokens[1]
			}
		case "index":
			if len(tokens) >= 2 {
				route.Index = tokens[1]
			}
		case "autoindex":
			if len(tokens) >= 2 {
				route.Autoindex = tokens[1] == "on"
			}
		case "return":
			if len(tokens) >= 2 {
				route.RedirectTarget = tokens[len(tokens)-1]
				route.RedirectPermanent = false
			}
		case "redirect":
			if len(tokens) >= 2 {
				route.RedirectTarget = tokens[len(tokens)-1]
				route.RedirectPermanent = true
			}
		case "cgi":
			if len(tokens) >= 3 {
				route.CGI[tokens[1]] = tokens[2]
			}
		case "upload_dir":
			if len(tokens) >= 2 {
				route.UploadDir = tokens[1]
			}
		default:
			// Unknown directive: ignored.
		}
	}

	if len(route.Methods) == 0 {
		route.Methods["GET"] = true
	}

	return route, nil
}

// parseSize parses a client_max_body_size value with an optional K/M/G
// suffix: K=1024, M=1024², G=1024³.
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("config: empty size value")
	}
	suffix := s[len(s)-1]
	mult := int64(1)
	numPart := s
	switch suffix {
	case 'K', 'k':
		mult = 1024
		numPart = s[:len(s)-1]
	case 'M', 'm':
		mult = 1024 * 1024
		numPart = s[:len(s)-1]
	case 'G', 'g':
		mult = 1024 * 1024 * 1024
		numPart = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid size %q: %w", s, err)
	}
	return n * mult, nil
}
