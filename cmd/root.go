// Package cmd implements the netprobe command line using cobra.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/netprobe/internal/config"
	"firestige.xyz/netprobe/internal/log"
	"firestige.xyz/netprobe/internal/metrics"
	"firestige.xyz/netprobe/internal/runner"
)

var (
	// Global flags
	configFile  string
	timeout     int
	verbose     int
	metricsFile string
	only        []string
)

// rootCmd runs the check when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "netprobe",
	Short: "Verify that DHCP and ARP on the local segment answer as configured",
	Long: `netprobe sends a DHCPDISCOVER and an ARP request per configured resolver on
the local segment, and checks every reply against the configured servers,
address ranges, gateways, DNS servers and IP to MAC bindings.

Exit status: 0 when every check passed, 1 when a check found violations or
could not run, 3 when the configuration cannot be used.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runCheckCommand,
}

// Execute runs the command line and returns the process exit code.
// SIGINT and SIGTERM cancel a running check.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return executeContext(ctx)
}

func executeContext(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", ee.err)
			}
			return ee.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return runner.ExitViolations
	}
	return runner.ExitOK
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/netprobe.conf",
		"config file path")
	rootCmd.PersistentFlags().IntVarP(&timeout, "timeout", "t", 0,
		"socket read timeout in seconds (default from config, 1)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v",
		"verbose output, repeat for more (-vvv is debug)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "",
		"write Prometheus metrics to this textfile collector file")
	rootCmd.PersistentFlags().StringSliceVar(&only, "only", nil,
		"run only these protocols (arp, dhcp)")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(validateCmd)
}

// exitError carries a process exit code through cobra. A nil err means the
// command already reported why.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitCode(code int) error {
	if code == runner.ExitOK {
		return nil
	}
	return &exitError{code: code}
}

// session is what every probing command sets up from the global flags.
type session struct {
	cfg      *config.Config
	logger   log.Logger
	metrics  *metrics.Metrics
	textfile string
}

// loadConfig reads configFile and applies the flag overrides. Every
// configuration error maps to exit status 3.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, config.ErrUnreadable) {
			err = fmt.Errorf("config file does not exist or not accessible: %w", err)
		}
		return nil, &exitError{code: runner.ExitUnreadable, err: err}
	}
	if timeout > 0 {
		cfg.Capture.ReadTimeout = time.Duration(timeout) * time.Second
	}
	if verbose > 0 {
		cfg.Log.Level = log.VerbosityLevel(verbose)
	}
	return cfg, nil
}

func newSession() (*session, error) {
	for _, p := range only {
		if !isProtocol(p) {
			return nil, fmt.Errorf("unknown protocol %q for --only (arp, dhcp)", p)
		}
	}
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	logger, err := log.New(cfg.Log)
	if err != nil {
		return nil, &exitError{code: runner.ExitUnreadable, err: err}
	}

	s := &session{cfg: cfg, logger: logger, textfile: cfg.Metrics.Textfile}
	if metricsFile != "" {
		s.textfile = metricsFile
	}
	if s.textfile != "" {
		s.metrics = metrics.New()
	}
	return s, nil
}

// flush writes the metrics textfile when one is configured.
func (s *session) flush() {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.WriteTextfile(s.textfile); err != nil {
		s.logger.WithError(err).Error("metrics textfile not written")
	}
}

func isProtocol(name string) bool {
	for _, p := range runner.Protocols {
		if strings.EqualFold(p, strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

func (s *session) prober() Prober {
	if probe != nil {
		return probe
	}
	opts := []runner.Option{runner.WithLogger(s.logger), runner.WithMetrics(s.metrics)}
	if len(only) > 0 {
		opts = append(opts, runner.WithOnly(only...))
	}
	return runnerProber{opts: opts}
}
