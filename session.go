package goepp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vitalvas/goepp/internal/logging"
)

// SessionState represents the current state of an EPP session.
type SessionState uint8

const (
	// SessionStateDisconnected indicates no connection has been established yet.
	SessionStateDisconnected SessionState = iota

	// SessionStateConnected indicates the greeting was received but no login succeeded.
	SessionStateConnected

	// SessionStateLoggedIn indicates a successful login; commands may be issued.
	SessionStateLoggedIn

	// SessionStateClosed indicates the session was closed. It is terminal.
	SessionStateClosed
)

// String returns a string representation of the session state.
func (s SessionState) String() string {
	switch s {
	case SessionStateDisconnected:
		return "DISCONNECTED"
	case SessionStateConnected:
		return "CONNECTED"
	case SessionStateLoggedIn:
		return "LOGGED_IN"
	case SessionStateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DefaultClTRIDPrefix prefixes generated client transaction identifiers.
const DefaultClTRIDPrefix = "GOEPP"

// Session is one EPP session: a single connection driven through
// greeting, login, commands and logout. Exchanges are strictly sequential;
// the session serialises concurrent callers.
type Session struct {
	mu          sync.Mutex
	config      ConnectionConfig
	credentials Credentials
	dialer      Dialer
	logger      *zap.Logger
	metrics     *Metrics
	limiter     *rate.Limiter

	clTRIDPrefix  string
	lang          string
	objectURIs    []string
	extensionURIs []string

	state     SessionState
	transport *Transport
	greeting  *Greeting
	result    *ResultRecord
	broken    bool
}

// SessionOption is a function that configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger. The default discards all output.
func WithLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDialer sets a custom dialer for the connection.
// If dialer is nil, a TCP or TLS dialer is derived from the configuration.
func WithDialer(dialer Dialer) SessionOption {
	return func(s *Session) {
		s.dialer = dialer
	}
}

// WithMetrics enables metrics collection.
func WithMetrics(m *Metrics) SessionOption {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithCommandRate limits how fast commands are sent on the session.
// Registries commonly enforce a per-connection command rate.
func WithCommandRate(limit rate.Limit, burst int) SessionOption {
	return func(s *Session) {
		s.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithClTRIDPrefix sets the prefix of generated client transaction identifiers.
func WithClTRIDPrefix(prefix string) SessionOption {
	return func(s *Session) {
		s.clTRIDPrefix = prefix
	}
}

// WithLang sets the response language requested at login.
func WithLang(lang string) SessionOption {
	return func(s *Session) {
		s.lang = lang
	}
}

// WithObjectURIs sets the services announced at login instead of the ones
// advertised in the greeting.
func WithObjectURIs(objectURIs, extensionURIs []string) SessionOption {
	return func(s *Session) {
		s.objectURIs = objectURIs
		s.extensionURIs = extensionURIs
	}
}

// NewSession creates a new session in the Disconnected state.
func NewSession(config ConnectionConfig, credentials Credentials, opts ...SessionOption) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := credentials.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		config:       config,
		credentials:  credentials,
		logger:       zap.NewNop(),
		clTRIDPrefix: DefaultClTRIDPrefix,
		lang:         DefaultLang,
		state:        SessionStateDisconnected,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With(
		logging.Host(config.Host),
		logging.Port(config.Port),
		zap.Bool("tls", config.UseTLS),
	)

	return s, nil
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastResult returns a copy of the result of the most recent exchange,
// or nil if that exchange failed before a result was interpreted. After
// Close it holds the logout result, or nil when no logout was answered.
func (s *Session) LastResult() *ResultRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil
	}
	rec := *s.result
	return &rec
}

// Greeting returns the most recent server greeting, or nil before Open.
func (s *Session) Greeting() *Greeting {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.greeting
}

// Config returns the connection configuration.
func (s *Session) Config() ConnectionConfig {
	return s.config
}

// LocalAddr returns the local address of the connection.
func (s *Session) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return nil
	}
	return s.transport.LocalAddr()
}

// Open connects to the server and reads the greeting. On failure the
// session stays Disconnected and the connection, if any, is released.
// Calling Open on a connected session is a no-op.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionStateClosed:
		return ErrSessionClosed
	case SessionStateConnected, SessionStateLoggedIn:
		return nil
	}

	dialer := s.dialer
	if dialer == nil {
		var cert *tls.Certificate
		if s.config.UseTLS && s.credentials.CertPath != "" {
			var err error
			cert, err = LoadKeyPair(s.credentials.CertPath, s.credentials.CertPassphrase)
			if err != nil {
				s.metrics.observeFailure("connect", err)
				return err
			}
		}
		dialer = s.config.newDialer(cert)
	}

	s.logger.Debug("connecting", logging.SNI(s.sniName()))

	t, err := Connect(ctx, s.config, dialer)
	if err != nil {
		s.metrics.observeFailure("connect", err)
		s.logger.Warn("connect failed", zap.Error(err))
		return err
	}

	payload, err := t.Receive()
	if err != nil {
		t.Close()
		s.metrics.observeFailure("greeting", err)
		s.logger.Warn("greeting not received", zap.Error(err))
		return fmt.Errorf("read greeting: %w", err)
	}

	greeting, err := ParseGreeting(payload)
	if err != nil {
		t.Close()
		err = fmt.Errorf("%w: greeting: %w", ErrFrame, err)
		s.metrics.observeFailure("greeting", err)
		s.logger.Warn("invalid greeting", zap.Error(err))
		return err
	}

	s.transport = t
	s.greeting = greeting
	s.result = nil
	s.broken = false
	s.state = SessionStateConnected
	s.metrics.sessionOpened()

	s.logger.Debug("connected",
		zap.String("server_id", greeting.ServerID),
		zap.Strings("object_uris", greeting.ObjectURIs),
	)

	return nil
}

// Login authenticates with the session credentials. Result codes 1000 and
// 1001 move the session to LoggedIn; any other result leaves it Connected
// and is returned as a record, not as an error. Login is never retried.
func (s *Session) Login(ctx context.Context) (*ResultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionStateClosed:
		return nil, ErrSessionClosed
	case SessionStateDisconnected:
		return nil, ErrNotConnected
	case SessionStateLoggedIn:
		return nil, ErrAlreadyLoggedIn
	}

	objectURIs, extensionURIs := s.services()
	login := &Login{
		ClientID:      s.credentials.LoginID,
		Password:      s.credentials.Password,
		Version:       ProtocolVersion,
		Lang:          s.lang,
		ObjectURIs:    objectURIs,
		ExtensionURIs: extensionURIs,
	}

	rec, err := s.exchange(ctx, login)
	if err != nil {
		return rec, err
	}

	if rec.IsSuccess() {
		s.state = SessionStateLoggedIn
		s.logger.Debug("logged in", logging.ResultCode(rec.Code))
	} else {
		s.logger.Warn("login rejected", logging.ResultCode(rec.Code), zap.String("msg", rec.Message))
	}

	return rec, nil
}

// Execute sends one command and returns the interpreted result. The session
// state never changes because of the result code; business failures
// (2000-2499) are returned as records, not errors. Execute requires a
// logged-in session and performs no I/O otherwise.
func (s *Session) Execute(ctx context.Context, cmd Command) (*ResultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionStateClosed:
		return nil, ErrSessionClosed
	case SessionStateLoggedIn:
	default:
		return nil, ErrNotLoggedIn
	}

	if cmd != nil {
		switch cmd.Kind() {
		case CommandHello, CommandLogin, CommandLogout:
			return nil, fmt.Errorf("%w: %s is a session command", ErrValidation, cmd.Kind())
		}
	}

	return s.exchange(ctx, cmd)
}

// Hello requests a fresh greeting from the server. It is valid in the
// Connected and LoggedIn states and does not touch the last result.
func (s *Session) Hello(ctx context.Context) (*Greeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionStateClosed:
		return nil, ErrSessionClosed
	case SessionStateDisconnected:
		return nil, ErrNotConnected
	}
	if s.broken {
		return nil, ErrConnectionBroken
	}

	payload, err := BuildCommand(Hello{}, "")
	if err != nil {
		return nil, err
	}

	resp, err := s.roundTrip(ctx, CommandHello, payload)
	if err != nil {
		return nil, err
	}

	greeting, err := ParseGreeting(resp)
	if err != nil {
		s.metrics.observeFailure(CommandHello.String(), err)
		return nil, err
	}
	s.greeting = greeting
	return greeting, nil
}

// Close ends the session. A logged-in session sends a logout first; the
// logout is best effort and its result is available from LastResult. The
// connection is always released. Logout failures are logged, never
// returned; the returned error only reports a failure to release the socket.
// Close on a closed session is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionStateClosed:
		return nil
	case SessionStateDisconnected:
		s.state = SessionStateClosed
		return nil
	}

	if s.state == SessionStateLoggedIn {
		if s.broken {
			// No logout can be sent, so there is no logout result.
			s.result = nil
		} else {
			rec, err := s.exchange(ctx, Logout{})
			switch {
			case err != nil:
				s.logger.Warn("logout failed", zap.Error(err))
			case !rec.IsEnding():
				s.logger.Warn("logout not acknowledged", logging.ResultCode(rec.Code), zap.String("msg", rec.Message))
			default:
				s.logger.Debug("logged out", logging.ResultCode(rec.Code))
			}
		}
	}

	err := s.transport.Close()
	s.transport = nil
	s.state = SessionStateClosed
	s.metrics.sessionReleased()

	if err != nil && !isNetClosedError(err) {
		return fmt.Errorf("release connection: %w", err)
	}
	return nil
}

// exchange builds, sends and interprets one command. The caller must hold s.mu.
func (s *Session) exchange(ctx context.Context, cmd Command) (*ResultRecord, error) {
	if s.broken {
		return nil, ErrConnectionBroken
	}

	clTRID := s.nextClTRID()
	payload, err := BuildCommand(cmd, clTRID)
	if err != nil {
		return nil, err
	}
	s.result = nil

	start := time.Now()
	resp, err := s.roundTrip(ctx, cmd.Kind(), payload)
	if err != nil {
		return nil, err
	}

	rec, err := Interpret(resp)
	if err != nil {
		s.metrics.observeFailure(cmd.Kind().String(), err)
		s.logger.Warn("unparseable response", logging.Command(cmd.Kind().String()), zap.Error(err))
		return nil, err
	}
	s.result = rec
	s.metrics.observeExchange(cmd.Kind(), rec.Band(), time.Since(start))

	if rec.ClTRID != "" && rec.ClTRID != clTRID {
		s.logger.Warn("clTRID mismatch", zap.String("sent", clTRID), zap.String("received", rec.ClTRID))
	}

	s.logger.Debug("exchange complete",
		logging.Command(cmd.Kind().String()),
		logging.ClTRID(clTRID),
		zap.String("sv_trid", rec.SvTRID),
		logging.ResultCode(rec.Code),
	)

	if rec.IsEnding() && cmd.Kind() != CommandLogout {
		return rec, fmt.Errorf("%w: result code %s is only valid for logout", ErrParse, rec.Code)
	}

	return rec, nil
}

// roundTrip sends payload and reads one response frame. A transport failure
// leaves the stream out of sync and marks the session broken.
func (s *Session) roundTrip(ctx context.Context, kind CommandKind, payload []byte) ([]byte, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := s.transport.Send(payload); err != nil {
		return nil, s.fail(kind, fmt.Errorf("send %s: %w", kind, err))
	}

	resp, err := s.transport.Receive()
	if err != nil {
		return nil, s.fail(kind, fmt.Errorf("receive %s response: %w", kind, err))
	}

	return resp, nil
}

func (s *Session) fail(kind CommandKind, err error) error {
	s.broken = true
	s.metrics.observeFailure(kind.String(), err)
	s.logger.Warn("exchange failed", logging.Command(kind.String()), zap.Error(err))
	return err
}

// services returns the URIs announced at login.
func (s *Session) services() ([]string, []string) {
	if len(s.objectURIs) > 0 {
		return s.objectURIs, s.extensionURIs
	}
	if s.greeting != nil && len(s.greeting.ObjectURIs) > 0 {
		return s.greeting.ObjectURIs, s.greeting.ExtensionURIs
	}
	return []string{NamespaceHost}, nil
}

func (s *Session) sniName() string {
	if !s.config.UseTLS {
		return ""
	}
	return s.config.ServerName()
}

// nextClTRID returns a new client transaction identifier.
func (s *Session) nextClTRID() string {
	id := ulid.Make().String()
	if s.clTRIDPrefix == "" {
		return id
	}
	return s.clTRIDPrefix + "-" + id
}
