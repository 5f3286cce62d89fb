// Package config loads the conformance test configuration.
//
// Sources are applied in order, later ones overriding earlier ones:
// defaults, the YAML file, EPPTEST_ environment variables, command line flags.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/vitalvas/goepp"
)

// DefaultEnvPrefix is the default environment variable prefix.
// Sections and keys are separated by a double underscore:
// EPPTEST_EPP_CONN_TEST__LOGIN_PWD sets epp_conn_test.login_pwd.
const DefaultEnvPrefix = "EPPTEST_"

// ErrInvalid indicates a configuration that cannot drive a test run.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete test configuration.
type Config struct {
	Connection Connection `koanf:"connection"`
	ConnTest   ConnTest   `koanf:"epp_conn_test"`
	HostDelete HostDelete `koanf:"host_delete"`
}

// Connection describes the server under test.
type Connection struct {
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
	TLS     bool   `koanf:"tls"`
	Timeout int    `koanf:"timeout"` // seconds

	// CAFile is an optional PEM bundle of trusted roots. When empty, the
	// system roots are used.
	CAFile string `koanf:"ca_file"`

	InsecureSkipVerify bool `koanf:"insecure_skip_verify"`
}

// ConnTest holds the registrar account shared by all conformance tests.
type ConnTest struct {
	LoginID          string `koanf:"login_id"`
	LoginPwd         string `koanf:"login_pwd"`
	ClientKeyPairPEM string `koanf:"client_key_pair_pem"`
	ClientKeyPairPwd string `koanf:"client_key_pair_pwd"`
	SNIServerName    string `koanf:"sni_server_name"`

	// NSHostURI is set when the registry supports host objects.
	NSHostURI string `koanf:"ns_host_uri"`
}

// HostDelete holds the parameters of the host delete test.
type HostDelete struct {
	Name string `koanf:"name"`
}

// Defaults returns the default configuration values.
func Defaults() map[string]any {
	return map[string]any{
		"connection.port":    goepp.DefaultPort,
		"connection.timeout": int(goepp.DefaultTimeout / time.Second),
	}
}

// Loader loads configuration from multiple sources.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
}

// Option is a function that configures the Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Load applies defaults, the file, the environment and overrides, then
// unmarshals the result. Keys in overrides use dotted paths such as
// "connection.host".
func (l *Loader) Load(overrides map[string]any) (*Config, error) {
	if err := l.LoadMap(Defaults()); err != nil {
		return nil, err
	}

	if l.filePath != "" {
		if err := l.LoadFile(l.filePath); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.LoadEnv(); err != nil {
		return nil, err
	}

	if len(overrides) > 0 {
		if err := l.LoadMap(overrides); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := l.k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFile loads configuration from a YAML file.
func (l *Loader) LoadFile(path string) error {
	if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load file %s: %w", path, err)
	}
	return nil
}

// LoadEnv loads configuration from environment variables.
func (l *Loader) LoadEnv() error {
	transform := func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}

	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// LoadMap loads configuration from a map of dotted keys.
func (l *Loader) LoadMap(data map[string]any) error {
	if err := l.k.Load(mapProvider(data), nil); err != nil {
		return fmt.Errorf("load map: %w", err)
	}
	return nil
}

// GetString returns a string value from the loaded configuration.
func (l *Loader) GetString(key string) string {
	return l.k.String(key)
}

// mapProvider is a koanf provider over a map of dotted keys.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return unflatten(out), nil
}

// unflatten turns {"a.b": v} into {"a": {"b": v}}.
func unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		node := out
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = v
	}
	return out
}

// HostObjectsSupported reports whether the registry supports host objects.
func (c *Config) HostObjectsSupported() bool {
	return c.ConnTest.NSHostURI != ""
}

// Validate checks the values needed to run the host delete test.
func (c *Config) Validate() error {
	if c.Connection.Host == "" {
		return fmt.Errorf("%w: connection host is required", ErrInvalid)
	}
	if c.Connection.Port < 1 || c.Connection.Port > 65535 {
		return fmt.Errorf("%w: connection port %d out of range", ErrInvalid, c.Connection.Port)
	}
	if c.Connection.Timeout <= 0 {
		return fmt.Errorf("%w: connection timeout must be positive", ErrInvalid)
	}
	if c.ConnTest.LoginID == "" || c.ConnTest.LoginPwd == "" {
		return fmt.Errorf("%w: epp_conn_test login_id and login_pwd are required", ErrInvalid)
	}
	if c.HostObjectsSupported() && c.HostDelete.Name == "" {
		return fmt.Errorf("%w: host_delete name is required", ErrInvalid)
	}
	return nil
}

// Resolve converts the configuration into session parameters.
func (c *Config) Resolve() (goepp.ConnectionConfig, goepp.Credentials, error) {
	if err := c.Validate(); err != nil {
		return goepp.ConnectionConfig{}, goepp.Credentials{}, err
	}

	conn := goepp.ConnectionConfig{
		Host:    c.Connection.Host,
		Port:    c.Connection.Port,
		UseTLS:  c.Connection.TLS,
		Timeout: time.Duration(c.Connection.Timeout) * time.Second,
	}

	if conn.UseTLS {
		conn.SNIName = c.ConnTest.SNIServerName

		tlsConfig := &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: c.Connection.InsecureSkipVerify, //nolint:gosec // operator choice for test registries
		}
		if c.Connection.CAFile != "" {
			pool, err := loadCertPool(c.Connection.CAFile)
			if err != nil {
				return goepp.ConnectionConfig{}, goepp.Credentials{}, err
			}
			tlsConfig.RootCAs = pool
		}
		conn.TLSConfig = tlsConfig
	}

	creds := goepp.Credentials{
		LoginID:  c.ConnTest.LoginID,
		Password: c.ConnTest.LoginPwd,
	}
	if conn.UseTLS {
		creds.CertPath = c.ConnTest.ClientKeyPairPEM
		creds.CertPassphrase = c.ConnTest.ClientKeyPairPwd
	}

	if err := conn.Validate(); err != nil {
		return goepp.ConnectionConfig{}, goepp.Credentials{}, err
	}

	return conn, creds, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: ca_file: %w", ErrInvalid, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%w: ca_file %s holds no certificates", ErrInvalid, path)
	}
	return pool, nil
}
