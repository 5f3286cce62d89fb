package goepp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/vitalvas/goepp/internal/logging"
)

// LoginRequest represents a login attempt on a server connection.
type LoginRequest struct {
	RemoteAddr net.Addr
	ClTRID     string
	Login      *Login

	// TLS is the connection state when the client connected over TLS.
	// It carries the SNI name and any client certificates.
	TLS *tls.ConnectionState
}

// CommandRequest represents a command issued on a logged-in connection.
type CommandRequest struct {
	RemoteAddr net.Addr
	ClTRID     string
	ClientID   string
	Command    Command
}

// LoginHandler decides login attempts.
type LoginHandler interface {
	// HandleLogin returns the login result. A 1000 or 1001 code logs the connection in.
	HandleLogin(ctx context.Context, req *LoginRequest) *Response
}

// CommandHandler executes object commands.
type CommandHandler interface {
	// HandleCommand returns the result of the command.
	HandleCommand(ctx context.Context, req *CommandRequest) *Response
}

// Handler combines all handler interfaces.
type Handler interface {
	LoginHandler
	CommandHandler
}

// LoginHandlerFunc is an adapter to allow ordinary functions to be used as LoginHandler.
type LoginHandlerFunc func(ctx context.Context, req *LoginRequest) *Response

// HandleLogin implements LoginHandler.
func (f LoginHandlerFunc) HandleLogin(ctx context.Context, req *LoginRequest) *Response {
	return f(ctx, req)
}

// CommandHandlerFunc is an adapter to allow ordinary functions to be used as CommandHandler.
type CommandHandlerFunc func(ctx context.Context, req *CommandRequest) *Response

// HandleCommand implements CommandHandler.
func (f CommandHandlerFunc) HandleCommand(ctx context.Context, req *CommandRequest) *Response {
	return f(ctx, req)
}

// StaticLoginHandler accepts exactly one client identifier and password.
func StaticLoginHandler(clientID, password string) LoginHandler {
	return LoginHandlerFunc(func(_ context.Context, req *LoginRequest) *Response {
		if req.Login.ClientID != clientID || req.Login.Password != password {
			return &Response{Code: ResultAuthenticationError, Message: "Authentication error"}
		}
		return &Response{Code: ResultSuccess, Message: "Command completed successfully"}
	})
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerListener sets the listener for the server.
func WithServerListener(ln Listener) ServerOption {
	return func(s *Server) {
		s.listener = ln
	}
}

// WithGreeting sets the greeting sent on connect and in reply to <hello/>.
func WithGreeting(g *Greeting) ServerOption {
	return func(s *Server) {
		if g != nil {
			s.greeting = g
		}
	}
}

// WithLoginHandler sets the login handler.
func WithLoginHandler(handler LoginHandler) ServerOption {
	return func(s *Server) {
		s.loginHandler = handler
	}
}

// WithCommandHandler sets the command handler.
func WithCommandHandler(handler CommandHandler) ServerOption {
	return func(s *Server) {
		s.commandHandler = handler
	}
}

// WithHandler sets a combined handler for logins and commands.
func WithHandler(handler Handler) ServerOption {
	return func(s *Server) {
		s.loginHandler = handler
		s.commandHandler = handler
	}
}

// WithServerReadTimeout sets the read timeout for client connections.
func WithServerReadTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.readTimeout = timeout
	}
}

// WithServerWriteTimeout sets the write timeout for client connections.
func WithServerWriteTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.writeTimeout = timeout
	}
}

// WithServerMaxFrameLength sets the maximum allowed length of incoming frames.
// Zero keeps DefaultMaxFrameLength.
func WithServerMaxFrameLength(maxLength uint32) ServerOption {
	return func(s *Server) {
		if maxLength > 0 {
			s.maxFrameLength = maxLength
		}
	}
}

// WithServerLogger sets the server logger.
func WithServerLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server is an EPP server. It owns the framing, greeting and session rules
// and delegates login decisions and object commands to handlers.
type Server struct {
	mu             sync.Mutex
	listener       Listener
	greeting       *Greeting
	loginHandler   LoginHandler
	commandHandler CommandHandler
	readTimeout    time.Duration
	writeTimeout   time.Duration
	maxFrameLength uint32
	logger         *zap.Logger

	running    bool
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewServer creates a new EPP server with the given options.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		greeting:       DefaultGreeting("goepp"),
		readTimeout:    DefaultTimeout,
		writeTimeout:   DefaultTimeout,
		maxFrameLength: DefaultMaxFrameLength,
		logger:         zap.NewNop(),
		shutdownCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Serve starts accepting connections on the configured listener.
// This method blocks until the server is shut down.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("no listener configured")
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdownCh:
				return nil
			default:
				return fmt.Errorf("accept error: %w", err)
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Shutdown stops accepting connections and waits for open ones to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.shutdownCh)

	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns true if the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr returns the server's listener address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// serverConn is the per-connection session state.
type serverConn struct {
	conn     Conn
	t        *Transport
	logger   *zap.Logger
	clientID string
}

func (s *Server) handleConnection(conn Conn) {
	defer s.wg.Done()
	defer conn.Close()

	sc := &serverConn{
		conn:   conn,
		t:      NewTransport(conn, 0, s.maxFrameLength),
		logger: s.logger.With(logging.Addr(conn.RemoteAddr().String())),
	}

	if err := s.sendGreeting(sc); err != nil {
		sc.logger.Debug("greeting not sent", zap.Error(err))
		return
	}

	ctx := context.Background()

	for {
		select {
		case <-s.shutdownCh:
			return
		default:
		}

		if s.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}

		payload, err := sc.t.Receive()
		if err != nil {
			if !errors.Is(err, ErrConnectionClosed) && !isNetClosedError(err) {
				sc.logger.Debug("read failed", zap.Error(err))
			}
			return
		}

		cmd, clTRID, err := ParseCommand(payload)
		switch {
		case errors.Is(err, ErrUnknownCommand):
			if s.reply(sc, &Response{Code: ResultUnknownCommand, Message: "Unknown command"}, clTRID) != nil {
				return
			}
			continue
		case err != nil:
			if s.reply(sc, &Response{Code: ResultSyntaxError, Message: "Command syntax error"}, clTRID) != nil {
				return
			}
			continue
		}

		if cmd.Kind() == CommandHello {
			if s.sendGreeting(sc) != nil {
				return
			}
			continue
		}

		resp, done := s.dispatch(ctx, sc, cmd, clTRID)
		sc.logger.Debug("command handled",
			logging.Command(cmd.Kind().String()),
			logging.ClTRID(clTRID),
			logging.ResultCode(strconv.Itoa(resp.Code)),
		)
		if s.reply(sc, resp, clTRID) != nil || done {
			return
		}
	}
}

// dispatch applies the session rules to cmd and returns the response and
// whether the connection ends after it is sent.
func (s *Server) dispatch(ctx context.Context, sc *serverConn, cmd Command, clTRID string) (*Response, bool) {
	switch c := cmd.(type) {
	case *Login:
		if sc.clientID != "" {
			return &Response{Code: ResultCommandUseError, Message: "Command use error", Reason: "already logged in"}, false
		}
		if err := c.Validate(); err != nil {
			return &Response{Code: ResultParameterMissing, Message: "Required parameter missing", Reason: err.Error()}, false
		}
		if s.loginHandler == nil {
			return &Response{Code: ResultCommandFailed, Message: "Command failed", Reason: "no login handler configured"}, false
		}
		resp := s.loginHandler.HandleLogin(ctx, &LoginRequest{
			RemoteAddr: sc.conn.RemoteAddr(),
			ClTRID:     clTRID,
			Login:      c,
			TLS:        connectionState(sc.conn),
		})
		if resp == nil {
			return &Response{Code: ResultCommandFailed, Message: "Command failed", Reason: "handler returned nil response"}, false
		}
		if ClassifyCode(resp.Code) == BandOK {
			sc.clientID = c.ClientID
			sc.logger = sc.logger.With(zap.String("client_id", c.ClientID))
			sc.logger.Debug("logged in")
		}
		return resp, false

	case Logout, *Logout:
		if sc.clientID == "" {
			return &Response{Code: ResultCommandUseError, Message: "Command use error", Reason: "not logged in"}, false
		}
		sc.logger.Debug("logged out")
		return &Response{Code: ResultSuccessEnding, Message: "Command completed successfully; ending session"}, true
	}

	if sc.clientID == "" {
		return &Response{Code: ResultCommandUseError, Message: "Command use error", Reason: "not logged in"}, false
	}
	if err := cmd.Validate(); err != nil {
		return &Response{Code: ResultParameterSyntaxError, Message: "Parameter value syntax error", Reason: err.Error()}, false
	}
	if s.commandHandler == nil {
		return &Response{Code: ResultCommandFailed, Message: "Command failed", Reason: "no command handler configured"}, false
	}

	resp := s.commandHandler.HandleCommand(ctx, &CommandRequest{
		RemoteAddr: sc.conn.RemoteAddr(),
		ClTRID:     clTRID,
		ClientID:   sc.clientID,
		Command:    cmd,
	})
	if resp == nil {
		return &Response{Code: ResultCommandFailed, Message: "Command failed", Reason: "handler returned nil response"}, false
	}
	// Ending the session is reserved for logout.
	if resp.Code == ResultSuccessEnding {
		return &Response{Code: ResultCommandFailed, Message: "Command failed", Reason: "invalid handler result"}, false
	}
	return resp, false
}

func (s *Server) sendGreeting(sc *serverConn) error {
	payload, err := s.greeting.MarshalBinary()
	if err != nil {
		return err
	}
	return s.write(sc, payload)
}

func (s *Server) reply(sc *serverConn, resp *Response, clTRID string) error {
	payload, err := BuildResponse(resp, clTRID, newSvTRID())
	if err != nil {
		sc.logger.Warn("invalid response", logging.ResultCode(strconv.Itoa(resp.Code)), zap.Error(err))
		payload, err = BuildResponse(&Response{Code: ResultCommandFailed, Message: "Command failed"}, clTRID, newSvTRID())
		if err != nil {
			return err
		}
	}
	return s.write(sc, payload)
}

func (s *Server) write(sc *serverConn, payload []byte) error {
	if s.writeTimeout > 0 {
		sc.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return sc.t.Send(payload)
}

func newSvTRID() string {
	return "SV-" + ulid.Make().String()
}

// connectionState returns the TLS state of conn, or nil for plain connections.
func connectionState(conn Conn) *tls.ConnectionState {
	if c, ok := conn.(*tcpConn); ok {
		conn = c.Conn
	}
	tc, ok := conn.(*tls.Conn)
	if !ok {
		return nil
	}
	state := tc.ConnectionState()
	return &state
}
