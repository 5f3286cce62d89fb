package goepp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// Conn is a stream carrying RFC 5734 frames, either plain TCP or TLS.
type Conn interface {
	net.Conn
}

// Listener accepts inbound EPP connections for a Server.
type Listener interface {
	// Accept blocks until a client connects. For TLS listeners the handshake
	// runs on the first read, so a bad client surfaces as a frame error.
	Accept() (Conn, error)

	Close() error

	Addr() net.Addr
}

// Dialer opens the connection a Session speaks EPP over.
// Connect bounds the call with the session timeout through ctx.
type Dialer interface {
	Dial(ctx context.Context, network, address string) (Conn, error)
}

type tcpConn struct {
	net.Conn
}

type tcpListener struct {
	net.Listener
}

func (l *tcpListener) Accept() (Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &tcpConn{Conn: conn}, nil
}

// TCPDialer connects to a registry without TLS. Registries only accept this
// on test ports; RFC 5734 requires TLS in production.
type TCPDialer struct {
	// Timeout caps the TCP connect. Zero leaves it to ctx.
	Timeout time.Duration

	// LocalAddr pins the source address, for registries that allowlist client IPs.
	LocalAddr *net.TCPAddr
}

// Dial opens a TCP connection to address.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (Conn, error) {
	dialer := &net.Dialer{
		Timeout:   d.Timeout,
		LocalAddr: d.LocalAddr,
	}

	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return &tcpConn{Conn: conn}, nil
}

// TLSDialer connects and completes the TLS handshake before returning, so the
// server greeting is the first thing read from the Conn. Timeout covers the
// TCP connect and the handshake together.
type TLSDialer struct {
	Timeout time.Duration

	// Config carries the SNI name in ServerName and the registrar client
	// certificate, if any. A nil Config verifies against the system roots
	// using the dialed host as SNI.
	Config *tls.Config
}

// Dial connects to address and runs the TLS handshake.
func (d *TLSDialer) Dial(ctx context.Context, network, address string) (Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{
			Timeout: d.Timeout,
		},
		Config: d.Config,
	}

	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return &tcpConn{Conn: conn}, nil
}

// ListenTCP listens for plain EPP connections on address.
func ListenTCP(address string) (Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return &tcpListener{Listener: ln}, nil
}

// ListenTLS listens for EPP over TLS on address. config must hold the server
// certificate; set ClientAuth to demand registrar client certificates.
func ListenTLS(address string, config *tls.Config) (Listener, error) {
	if config == nil {
		return nil, fmt.Errorf("TLS config is required")
	}
	ln, err := tls.Listen("tcp", address, config)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return &tcpListener{Listener: ln}, nil
}

// NewTLSClientConfig returns the base client TLS configuration. serverName is
// sent as SNI and checked against the registry certificate unless
// insecureSkipVerify is set.
func NewTLSClientConfig(serverName string, insecureSkipVerify bool) *tls.Config {
	return &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: insecureSkipVerify, //nolint:gosec // opt-in for test registries
		MinVersion:         tls.VersionTLS12,
	}
}

// ConnectionConfig describes how to reach an EPP server.
type ConnectionConfig struct {
	// Host is the server host name or IP address.
	Host string

	// Port is the server TCP port (1-65535).
	Port int

	// UseTLS enables TLS on the connection.
	UseTLS bool

	// SNIName overrides the server name presented in the TLS handshake.
	// Only meaningful when UseTLS is set; Host is used when empty.
	SNIName string

	// Timeout bounds the connect sequence and every single read or write.
	Timeout time.Duration

	// TLSConfig is an optional base TLS configuration (roots, verification).
	// It is cloned before use and never modified.
	TLSConfig *tls.Config

	// MaxFrameLength bounds accepted frame sizes. Zero selects DefaultMaxFrameLength.
	MaxFrameLength uint32
}

// Validate checks the configuration values.
func (c ConnectionConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	return nil
}

// Address returns the host:port dial address.
func (c ConnectionConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ServerName returns the name presented via SNI.
func (c ConnectionConfig) ServerName() string {
	if c.SNIName != "" {
		return c.SNIName
	}
	return c.Host
}

func (c ConnectionConfig) timeout() time.Duration {
	if c.Timeout == 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c ConnectionConfig) maxFrameLength() uint32 {
	if c.MaxFrameLength == 0 {
		return DefaultMaxFrameLength
	}
	return c.MaxFrameLength
}

// tlsConfig builds the client TLS configuration, applying the SNI name and
// the optional client certificate.
func (c ConnectionConfig) tlsConfig(cert *tls.Certificate) *tls.Config {
	var cfg *tls.Config
	if c.TLSConfig != nil {
		cfg = c.TLSConfig.Clone()
	} else {
		cfg = NewTLSClientConfig("", false)
	}
	cfg.ServerName = c.ServerName()
	if cert != nil {
		cfg.Certificates = []tls.Certificate{*cert}
	}
	return cfg
}

// newDialer selects the dialer for the configuration.
func (c ConnectionConfig) newDialer(cert *tls.Certificate) Dialer {
	if c.UseTLS {
		return &TLSDialer{Timeout: c.timeout(), Config: c.tlsConfig(cert)}
	}
	return &TCPDialer{Timeout: c.timeout()}
}

// Transport carries EPP frames over one connection.
// Every Send and Receive is bounded by the configured timeout.
type Transport struct {
	conn      Conn
	timeout   time.Duration
	maxLength uint32
	closeOnce sync.Once
	closeErr  error
}

// Connect dials the server described by cfg using dialer. A nil dialer selects
// TCP or TLS according to cfg. The whole connect sequence must finish within
// the configured timeout.
func Connect(ctx context.Context, cfg ConnectionConfig, dialer Dialer) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil {
		dialer = cfg.newDialer(nil)
	}

	timeout := cfg.timeout()
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.Dial(dialCtx, "tcp", cfg.Address())
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: connect to %s: %w", ErrTimeout, cfg.Address(), err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrConnect, cfg.Address(), err)
	}

	return NewTransport(conn, timeout, cfg.maxFrameLength()), nil
}

// NewTransport wraps an established connection. A zero maxLength selects
// DefaultMaxFrameLength.
func NewTransport(conn Conn, timeout time.Duration, maxLength uint32) *Transport {
	if maxLength == 0 {
		maxLength = DefaultMaxFrameLength
	}
	return &Transport{
		conn:      conn,
		timeout:   timeout,
		maxLength: maxLength,
	}
}

// Send writes payload as one frame.
func (t *Transport) Send(payload []byte) error {
	if t.timeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	if err := WriteFrame(t.conn, payload); err != nil {
		return classifyNetError("write frame", err)
	}
	return nil
}

// Receive reads one frame and returns its payload.
func (t *Transport) Receive() ([]byte, error) {
	if t.timeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	payload, err := ReadFrame(t.conn, t.maxLength)
	if err != nil {
		return nil, classifyNetError("read frame", err)
	}
	return payload, nil
}

// Close closes the underlying connection. It is safe to call multiple times.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// LocalAddr returns the local address of the connection.
func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// RemoteAddr returns the remote address of the connection.
func (t *Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// classifyNetError maps deadline failures to ErrTimeout and leaves other errors wrapped as-is.
func classifyNetError(op string, err error) error {
	if errors.Is(err, ErrFrame) {
		return err
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isTimeout reports whether err is a deadline or timeout error.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isNetClosedError checks if the error is a closed network connection error.
func isNetClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
