package main

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vitalvas/goepp"
	"github.com/vitalvas/goepp/internal/config"
	"github.com/vitalvas/goepp/internal/logging"
)

const banner = "EppHostDelete01 - test Delete host to tld epp server"

type rootFlags struct {
	configPath  string
	host        string
	port        int
	useTLS      bool
	timeout     int
	metricsFile string
	verbose     bool
	noColor     bool
}

func newRootCmd() *cobra.Command {
	var (
		flags  rootFlags
		logger *zap.Logger
	)

	cmd := &cobra.Command{
		Use:   "epp-hostdelete",
		Short: "Check that an EPP server deletes a host object",
		Long: `epp-hostdelete logs in to an EPP server, deletes the host named in the
host_delete section of the configuration, logs out and reports each step.

Configuration is read from the YAML file given with --config, then from
EPPTEST_ environment variables (EPPTEST_EPP_CONN_TEST__LOGIN_PWD sets
epp_conn_test.login_pwd), then from command line flags.

The check is skipped when epp_conn_test.ns_host_uri is not set.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			logCfg := logging.FromEnv()
			if flags.verbose {
				logCfg.Level = zapcore.DebugLevel.String()
			}

			var err error
			logger, err = logging.New(logCfg)
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}

			if flags.noColor {
				color.NoColor = true
			}
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if logger != nil {
				logging.Sync(logger)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHostDelete(cmd, &flags, logger)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.configPath, "config", "c", "", "path to the YAML configuration file")
	f.StringVar(&flags.host, "host", "", "EPP server host name or address")
	f.IntVarP(&flags.port, "port", "p", goepp.DefaultPort, "EPP server port")
	f.BoolVarP(&flags.useTLS, "tls", "s", false, "connect with TLS")
	f.IntVarP(&flags.timeout, "timeout", "t", int(goepp.DefaultTimeout.Seconds()), "I/O timeout in seconds")
	f.StringVar(&flags.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	f.BoolVar(&flags.noColor, "no-color", false, "disable coloured output")

	return cmd
}

// overrides returns the configuration keys set explicitly on the command line.
func (f *rootFlags) overrides(cmd *cobra.Command) map[string]any {
	out := make(map[string]any)

	if cmd.Flags().Changed("host") {
		out["connection.host"] = f.host
	}
	if cmd.Flags().Changed("port") {
		out["connection.port"] = f.port
	}
	if cmd.Flags().Changed("tls") {
		out["connection.tls"] = f.useTLS
	}
	if cmd.Flags().Changed("timeout") {
		out["connection.timeout"] = f.timeout
	}

	return out
}

func runHostDelete(cmd *cobra.Command, flags *rootFlags, logger *zap.Logger) error {
	out := newReport(cmd.OutOrStdout())
	out.info(banner)

	loader := config.NewLoader(config.WithConfigFile(flags.configPath))
	cfg, err := loader.Load(flags.overrides(cmd))
	if err != nil {
		return err
	}

	if !cfg.HostObjectsSupported() {
		out.ok("Host objects not supported - NOT Tested - OK")
		return nil
	}

	conn, creds, err := cfg.Resolve()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics, err := goepp.NewMetrics(reg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &checker{
		out:     out,
		logger:  logger.With(logging.Component("hostdelete")),
		metrics: metrics,
	}
	passed := c.run(ctx, conn, creds, cfg.HostDelete.Name)

	if flags.metricsFile != "" {
		if err := prometheus.WriteToTextfile(flags.metricsFile, reg); err != nil {
			logger.Warn("write metrics", zap.String("path", flags.metricsFile), zap.Error(err))
		}
	}

	if !passed {
		fmt.Fprintf(cmd.ErrOrStderr(), "reproduce: %s\n", reproduceLine(flags.configPath, conn))
		return &exitError{code: exitFailed}
	}
	return nil
}

// reproduceLine renders a shell command that repeats this run.
func reproduceLine(configPath string, conn goepp.ConnectionConfig) string {
	var b commandBuilder
	b.add("epp-hostdelete")
	if configPath != "" {
		b.add("-c", configPath)
	}
	b.add("--host", conn.Host, "-p", strconv.Itoa(conn.Port))
	if conn.UseTLS {
		b.add("-s")
	}
	b.add("-t", strconv.Itoa(int(conn.Timeout.Seconds())))
	return b.String()
}
