// Package cli is the securelog command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/config"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/output"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/service"
)

// Version is overridden at build time with -ldflags.
var Version = "0.1.0"

type app struct {
	configPath string
	logLevel   string
	format     string
	noColor    bool

	cfg     *config.Config
	logger  *logging.Logger
	printer *output.Printer
}

// NewRootCommand builds the securelog command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "securelog",
		Short: "Tamper-evident secure logging for rover mission control",
		Long: `securelog records safety and security events in a signed hash chain,
stores encrypted copies, replicates chain entries across storage locations,
alerts operators and forwards events to SIEM systems.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: ./config.yaml or /etc/securelog/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.format, "output", "table", "output format: table, json")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newServeCommand(a),
		newLogCommand(a),
		newVerifyCommand(a),
		newSearchCommand(a),
		newExportCommand(a),
		newStatusCommand(a),
		newKeysCommand(a),
		newSeedCommand(a),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	format, err := output.ParseFormat(a.format)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logging.NewWithWriter(cmd.ErrOrStderr(), logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With(logging.Service("securelog"))
	color := !a.noColor && os.Getenv("NO_COLOR") == ""
	a.printer = output.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), format, color)
	return nil
}

// withService builds the service, optionally starts its workers, runs fn
// and stops the service again. Stop drains queued events, so callers can
// read final event status after withService returns.
func (a *app) withService(ctx context.Context, start bool, fn func(svc *service.Service) error) (*service.Service, error) {
	svc, err := service.Build(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build service: %w", err)
	}
	if start {
		svc.Start(ctx)
	}

	runErr := fn(svc)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout())
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("stop service: %w", err)
	}
	return svc, runErr
}

func (a *app) shutdownTimeout() time.Duration {
	if a.cfg.Service.ShutdownTimeout > 0 {
		return a.cfg.Service.ShutdownTimeout
	}
	return 30 * time.Second
}

// parseTime accepts RFC3339 timestamps or a duration relative to now
// ("24h" means 24 hours ago). Empty input is the zero time.
func parseTime(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use RFC3339 or a duration such as 24h", s)
	}
	return now.Add(-d).UTC(), nil
}
