package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/goepp"
)

func startServer(t *testing.T, hosts map[string]int) int {
	t.Helper()

	ln, err := goepp.ListenTCP("127.0.0.1:0")
	require.NoError(t, err)

	server := goepp.NewServer(
		goepp.WithServerListener(ln),
		goepp.WithLoginHandler(goepp.StaticLoginHandler("registrar", "secret")),
		goepp.WithCommandHandler(goepp.CommandHandlerFunc(func(_ context.Context, req *goepp.CommandRequest) *goepp.Response {
			del, ok := req.Command.(*goepp.HostDelete)
			if !ok {
				return &goepp.Response{Code: goepp.ResultUnknownCommand, Message: "Unknown command"}
			}
			code, ok := hosts[del.Name]
			if !ok {
				return &goepp.Response{Code: goepp.ResultObjectDoesNotExist, Message: "Object does not exist", Reason: "no such host"}
			}
			return &goepp.Response{Code: code, Message: "Command completed"}
		})),
	)
	go func() { server.Serve() }()
	t.Cleanup(func() { server.Shutdown(context.Background()) })
	time.Sleep(50 * time.Millisecond)

	return server.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "epptest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func hostConfig(port int, password, host string) string {
	return fmt.Sprintf(`
connection:
  host: 127.0.0.1
  port: %d
  timeout: 5
epp_conn_test:
  login_id: registrar
  login_pwd: %s
  ns_host_uri: urn:ietf:params:xml:ns:host-1.0
host_delete:
  name: %s
`, port, password, host)
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	code := execute(append(args, "--no-color"), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestHostDelete(t *testing.T) {
	t.Run("passes", func(t *testing.T) {
		port := startServer(t, map[string]int{"ns1.example.com": goepp.ResultSuccess})
		path := writeConfig(t, hostConfig(port, "secret", "ns1.example.com"))

		code, stdout, stderr := run(t, "-c", path)

		assert.Equal(t, exitOK, code)
		assert.Contains(t, stdout, banner)
		assert.Contains(t, stdout, "Host Delete (ns1.example.com) OK - ResultCode = 1000")
		assert.Contains(t, stdout, "Logout OK - ResultCode = 1500")
		assert.Empty(t, stderr)
	})

	t.Run("pending counts as success", func(t *testing.T) {
		port := startServer(t, map[string]int{"ns1.example.com": goepp.ResultSuccessPending})
		path := writeConfig(t, hostConfig(port, "secret", "ns1.example.com"))

		code, stdout, _ := run(t, "-c", path)

		assert.Equal(t, exitOK, code)
		assert.Contains(t, stdout, "Host Delete (ns1.example.com) OK - ResultCode = 1001")
	})

	t.Run("object does not exist", func(t *testing.T) {
		port := startServer(t, nil)
		path := writeConfig(t, hostConfig(port, "secret", "ns9.example.com"))

		code, stdout, stderr := run(t, "-c", path)

		assert.Equal(t, exitFailed, code)
		assert.Contains(t, stdout, "Host Delete FAILED - 2303 - Object does not exist (no such host)")
		assert.NotContains(t, stdout, "Logout OK")
		assert.Contains(t, stderr, "reproduce: epp-hostdelete -c "+path)
	})

	t.Run("association prohibits", func(t *testing.T) {
		port := startServer(t, map[string]int{"ns2.example.com": goepp.ResultObjectAssociationProhibits})
		path := writeConfig(t, hostConfig(port, "secret", "ns2.example.com"))

		code, stdout, _ := run(t, "-c", path)

		assert.Equal(t, exitFailed, code)
		assert.Contains(t, stdout, "Host Delete FAILED - 2305 - Command completed")
	})

	t.Run("login rejected", func(t *testing.T) {
		port := startServer(t, nil)
		path := writeConfig(t, hostConfig(port, "wrong", "ns1.example.com"))

		code, stdout, _ := run(t, "-c", path)

		assert.Equal(t, exitFailed, code)
		assert.Contains(t, stdout, "Login FAILED - 2200 - Authentication error")
		assert.NotContains(t, stdout, "Host Delete")
	})

	t.Run("connect fails", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := ln.Addr().(*net.TCPAddr).Port
		require.NoError(t, ln.Close())

		path := writeConfig(t, hostConfig(port, "secret", "ns1.example.com"))

		code, stdout, _ := run(t, "-c", path)

		assert.Equal(t, exitFailed, code)
		assert.Contains(t, stdout, "Connect FAILED")
	})

	t.Run("flags override config", func(t *testing.T) {
		port := startServer(t, map[string]int{"ns1.example.com": goepp.ResultSuccess})
		path := writeConfig(t, hostConfig(1, "secret", "ns1.example.com"))

		code, stdout, _ := run(t, "-c", path, "--host", "127.0.0.1", "-p", fmt.Sprint(port), "-t", "3")

		assert.Equal(t, exitOK, code)
		assert.Contains(t, stdout, "Logout OK - ResultCode = 1500")
	})

	t.Run("writes metrics", func(t *testing.T) {
		port := startServer(t, map[string]int{"ns1.example.com": goepp.ResultSuccess})
		path := writeConfig(t, hostConfig(port, "secret", "ns1.example.com"))
		metricsPath := filepath.Join(t.TempDir(), "epp.prom")

		code, _, _ := run(t, "-c", path, "--metrics-file", metricsPath)
		require.Equal(t, exitOK, code)

		data, err := os.ReadFile(metricsPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), `epp_exchanges_total{band="OK",command="host:delete"} 1`)
		assert.Contains(t, string(data), `epp_exchanges_total{band="ENDING",command="logout"} 1`)
	})
}

func TestHostDeleteSkipped(t *testing.T) {
	path := writeConfig(t, `
connection:
  host: 127.0.0.1
epp_conn_test:
  login_id: registrar
  login_pwd: secret
`)

	code, stdout, _ := run(t, "-c", path)

	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "NOT Tested - OK")
}

func TestHostDeleteUsageErrors(t *testing.T) {
	t.Run("missing config file", func(t *testing.T) {
		code, _, stderr := run(t, "-c", "/nonexistent/epptest.yaml")

		assert.Equal(t, exitUsage, code)
		assert.Contains(t, stderr, "Error:")
	})

	t.Run("incomplete config", func(t *testing.T) {
		path := writeConfig(t, `
connection:
  host: 127.0.0.1
epp_conn_test:
  ns_host_uri: urn:ietf:params:xml:ns:host-1.0
host_delete:
  name: ns1.example.com
`)

		code, _, stderr := run(t, "-c", path)

		assert.Equal(t, exitUsage, code)
		assert.Contains(t, stderr, "login_id")
	})

	t.Run("unexpected argument", func(t *testing.T) {
		code, _, _ := run(t, "extra")
		assert.Equal(t, exitUsage, code)
	})

	t.Run("unknown flag", func(t *testing.T) {
		code, _, _ := run(t, "--bogus")
		assert.Equal(t, exitUsage, code)
	})
}

func TestReproduceLine(t *testing.T) {
	line := reproduceLine("/etc/epp test/epp.yaml", goepp.ConnectionConfig{
		Host:    "epp.example.net",
		Port:    700,
		UseTLS:  true,
		Timeout: 30 * time.Second,
	})

	assert.Equal(t, "epp-hostdelete -c '/etc/epp test/epp.yaml' --host epp.example.net -p 700 -s -t 30", line)
}
