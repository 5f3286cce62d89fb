// Command epp-server runs a small EPP server holding host objects.
//
// It is meant for local runs of epp-hostdelete: one registrar account,
// a fixed set of hosts, plain TCP or TLS.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vitalvas/goepp"
	"github.com/vitalvas/goepp/internal/logging"
)

type serverFlags struct {
	listen            string
	serverID          string
	clientID          string
	password          string
	hosts             []string
	linked            []string
	keyPair           string
	keyPairPassphrase string
	requireClientCert bool
	readTimeout       time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		flags  serverFlags
		logger *zap.Logger
	)

	cmd := &cobra.Command{
		Use:   "epp-server",
		Short: "Run a test EPP server with an in-memory host repository",
		Long: `epp-server accepts EPP sessions on --listen, authenticates one registrar
account and answers <host:delete> from an in-memory set of host objects.

Hosts given with --linked are treated as referenced by a domain and cannot
be deleted (2305). Unknown hosts answer 2303.

TLS is enabled with --key-pair, a PEM file holding the certificate chain
and private key or a PKCS#12 bundle.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			var err error
			logger, err = logging.New(logging.FromEnv())
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if logger != nil {
				logging.Sync(logger)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			server, err := flags.newServer(logger)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), server, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.listen, "listen", getEnv("EPPSERVER_LISTEN", fmt.Sprintf(":%d", goepp.DefaultPort)), "listen address (host:port)")
	f.StringVar(&flags.serverID, "server-id", getEnv("EPPSERVER_ID", "goepp"), "server identifier sent in the greeting")
	f.StringVar(&flags.clientID, "client-id", getEnv("EPPSERVER_CLIENT_ID", "registrar"), "registrar client identifier")
	f.StringVar(&flags.password, "password", os.Getenv("EPPSERVER_PASSWORD"), "registrar password")
	f.StringSliceVar(&flags.hosts, "hosts", splitEnv("EPPSERVER_HOSTS"), "deletable host objects")
	f.StringSliceVar(&flags.linked, "linked", splitEnv("EPPSERVER_LINKED"), "host objects linked to a domain")
	f.StringVar(&flags.keyPair, "key-pair", "", "server key pair (PEM or PKCS#12); enables TLS")
	f.StringVar(&flags.keyPairPassphrase, "key-pair-passphrase", os.Getenv("EPPSERVER_KEY_PAIR_PASSPHRASE"), "passphrase for --key-pair")
	f.BoolVar(&flags.requireClientCert, "require-client-cert", false, "require a client certificate over TLS")
	f.DurationVar(&flags.readTimeout, "read-timeout", goepp.DefaultTimeout, "idle timeout for client connections")

	return cmd
}

func (f *serverFlags) validate() error {
	if f.password == "" {
		return fmt.Errorf("--password or EPPSERVER_PASSWORD is required")
	}
	if f.requireClientCert && f.keyPair == "" {
		return fmt.Errorf("--require-client-cert needs --key-pair")
	}
	return nil
}

func (f *serverFlags) tlsConfig() (*tls.Config, error) {
	cert, err := goepp.LoadKeyPair(f.keyPair, f.keyPairPassphrase)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	}
	if f.requireClientCert {
		cfg.ClientAuth = tls.RequireAnyClientCert
	}
	return cfg, nil
}

func (f *serverFlags) newServer(logger *zap.Logger) (*goepp.Server, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	reg, err := newRegistry(f.clientID, f.password, f.hosts, f.linked, logger.With(logging.Component("registry")))
	if err != nil {
		return nil, err
	}

	var ln goepp.Listener
	if f.keyPair != "" {
		tlsConfig, err := f.tlsConfig()
		if err != nil {
			return nil, err
		}
		ln, err = goepp.ListenTLS(f.listen, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("listen tls: %w", err)
		}
	} else {
		ln, err = goepp.ListenTCP(f.listen)
		if err != nil {
			return nil, fmt.Errorf("listen tcp: %w", err)
		}
	}

	logger.Info("starting epp server",
		logging.Addr(ln.Addr().String()),
		zap.Bool("tls", f.keyPair != ""),
		zap.Int("hosts", len(f.hosts)+len(f.linked)),
	)

	return goepp.NewServer(
		goepp.WithServerListener(ln),
		goepp.WithGreeting(goepp.DefaultGreeting(f.serverID)),
		goepp.WithHandler(reg),
		goepp.WithServerReadTimeout(f.readTimeout),
		goepp.WithServerLogger(logger.With(logging.Component("server"))),
	), nil
}

// serve runs server until ctx is cancelled or a termination signal arrives.
func serve(ctx context.Context, server *goepp.Server, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	if err := server.Serve(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func splitEnv(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}
