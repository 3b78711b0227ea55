package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConf = `
# a comment
server {
	listen 8080;
	server_name example.com;
	root /var/www;
	client_max_body_size 2M;
	timeout 30;
	error_page 404 /var/www/404.html;

	location /uploads {
		methods POST GET;
		upload_dir /var/www/uploads;
	}

	location /cgi-bin {
		cgi .py /usr/bin/python3;
		methods GET POST;
	}

	location / {
		index index.html;
		autoindex on;
	}
}
`

func TestLoadParsesServerAndLocationDirectives(t *testing.T) {
	cfg, err := Load(sampleConf)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)

	s := cfg.Servers[0]
	require.Equal(t, "example.com", s.ServerName)
	require.Equal(t, "/var/www", s.Root)
	require.Equal(t, []int{8080}, s.Ports)
	require.Equal(t, int64(2*1024*1024), s.MaxBodySize)
	require.Equal(t, "/var/www/404.html", s.ErrorPages[404])

	require.Len(t, s.Routes, 3)

	var uploadsRoute, cgiRoute, rootRoute *Route
	for _, r := range s.Routes {
		switch r.Path {
		case "/uploads":
			uploadsRoute = r
		case "/cgi-bin":
			cgiRoute = r
		case "/":
			rootRoute = r
		}
	}

	require.NotNil(t, uploadsRoute)
	require.Equal(t, "/var/www/uploads", uploadsRoute.UploadDir)
	require.True(t, uploadsRoute.AllowsMethod("POST"))
	require.True(t, uploadsRoute.AllowsMethod("GET"))

	require.NotNil(t, cgiRoute)
	require.Equal(t, "/usr/bin/python3", cgiRoute.CGIInterpreter(".py"))

	require.NotNil(t, rootRoute)
	require.Equal(t, "index.html", rootRoute.Index)
	require.True(t, rootRoute.Autoindex)
}

func TestLoadRejectsEmptyConfig(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRejectsMissingRoot(t *testing.T) {
	_, err := Load("server {\n listen 8080;\n}\n")
	require.Error(t, err)
}

func TestParseSizeSuffixes(t *testing.T) {
	n, err := parseSize("10K")
	require.NoError(t, err)
	require.Equal(t, int64(10*1024), n)

	n, err = parseSize("1G")
	require.NoError(t, err)
	require.Equal(t, int64(1024*1024*1024), n)

	n, err = parseSize("100")
	require.NoError(t, err)
	require.Equal(t, int64(100), n)
}

func TestSelectServerPrefersServerNameMatch(t *testing.T) {
	cfg := &Config{Servers: []*ServerConfig{
		{ServerName: "a.example.com", Host: "0.0.0.0", Ports: []int{80}, Root: "/a"},
		{ServerName: "b.example.com", Host: "0.0.0.0", Ports: []int{80}, Root: "/b"},
	}}
	require.NoError(t, cfg.Validate())

	s := cfg.SelectServer(80, "b.example.com:80")
	require.NotNil(t, s)
	require.Equal(t, "/b", s.Root)

	fallback := cfg.SelectServer(80, "unknown.example.com")
	require.NotNil(t, fallback)
	require.Equal(t, "/a", fallback.Root)
}

func TestValidateDetectsDuplicateVirtualHost(t *testing.T) {
	cfg := &Config{Servers: []*ServerConfig{
		{ServerName: "a.example.com", Host: "0.0.0.0", Ports: []int{80}, Root: "/a"},
		{ServerName: "a.example.com", Host: "0.0.0.0", Ports: []int{80}, Root: "/a2"},
	}}
	require.Error(t, cfg.Validate())
}
