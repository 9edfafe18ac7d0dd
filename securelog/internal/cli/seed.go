package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/output"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/service"
)

type seedOptions struct {
	count         int
	criticalRatio float64
	seed          int64
	compliance    bool
}

// seedTemplate is one kind of generated rover event.
type seedTemplate struct {
	eventType  string
	severities []models.Severity
	payload    func(f *gofakeit.Faker) map[string]interface{}
}

var seedTemplates = []seedTemplate{
	{
		eventType:  "rover_telemetry",
		severities: []models.Severity{models.SeverityInfo},
		payload: func(f *gofakeit.Faker) map[string]interface{} {
			return map[string]interface{}{
				"battery_pct": f.Number(5, 100),
				"speed_mps":   f.Float64Range(0, 2.5),
				"latitude":    f.Latitude(),
				"longitude":   f.Longitude(),
			}
		},
	},
	{
		eventType:  "command_executed",
		severities: []models.Severity{models.SeverityInfo, models.SeverityLow},
		payload: func(f *gofakeit.Faker) map[string]interface{} {
			return map[string]interface{}{
				"command":   f.RandomString([]string{"drive_forward", "rotate", "arm_extend", "camera_capture", "sample_collect"}),
				"source_ip": f.IPv4Address(),
				"session":   fmt.Sprintf("sess-%s", f.UUID()[:8]),
			}
		},
	},
	{
		eventType:  "auth_failure",
		severities: []models.Severity{models.SeverityMedium, models.SeverityHigh},
		payload: func(f *gofakeit.Faker) map[string]interface{} {
			return map[string]interface{}{
				"reason":     f.RandomString([]string{"bad_password", "expired_token", "unknown_user"}),
				"source_ip":  f.IPv4Address(),
				"user_agent": f.UserAgent(),
			}
		},
	},
	{
		eventType:  "firmware_update",
		severities: []models.Severity{models.SeverityMedium},
		payload: func(f *gofakeit.Faker) map[string]interface{} {
			return map[string]interface{}{
				"component": f.RandomString([]string{"motor_controller", "imu", "radio", "arm"}),
				"version":   f.AppVersion(),
			}
		},
	},
	{
		eventType:  "emergency_stop",
		severities: []models.Severity{models.SeverityCritical},
		payload: func(f *gofakeit.Faker) map[string]interface{} {
			return map[string]interface{}{
				"reason":   f.RandomString([]string{"manual", "obstacle", "tilt_limit", "comms_loss"}),
				"operator": f.Username(),
			}
		},
	},
}

func newSeedCommand(a *app) *cobra.Command {
	opts := &seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Log randomly generated rover events",
		Long: `Generates realistic rover events and logs them through the full pipeline.
Useful for load testing the proof-of-work difficulty and storage layout.`,
		Example: `  securelog seed --count 500
  securelog seed --count 50 --critical-ratio 0.2 --seed 42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.seedEvents(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.count, "count", 100, "number of events")
	cmd.Flags().Float64Var(&opts.criticalRatio, "critical-ratio", 0.05, "fraction of emergency_stop events")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "random seed (0 picks one)")
	cmd.Flags().BoolVar(&opts.compliance, "compliance", false, "mark generated events as compliance evidence")
	return cmd
}

// generate returns count requests. Non-critical templates are picked
// uniformly; criticalRatio of the events are emergency stops.
func (o *seedOptions) generate() []service.LogRequest {
	f := gofakeit.New(o.seed)
	critical := seedTemplates[len(seedTemplates)-1]
	regular := seedTemplates[:len(seedTemplates)-1]

	notify := false
	missions := []string{f.UUID(), f.UUID(), f.UUID()}
	out := make([]service.LogRequest, 0, o.count)
	for i := 0; i < o.count; i++ {
		tpl := regular[f.Number(0, len(regular)-1)]
		if f.Float64Range(0, 1) < o.criticalRatio {
			tpl = critical
		}
		out = append(out, service.LogRequest{
			EventType:          tpl.eventType,
			Severity:           tpl.severities[f.Number(0, len(tpl.severities)-1)],
			Payload:            tpl.payload(f),
			Actor:              f.Username(),
			CorrelationID:      "mission-" + missions[f.Number(0, len(missions)-1)][:8],
			Notify:             &notify,
			ComplianceEvidence: o.compliance,
		})
	}
	return out
}

type seedSummary struct {
	Logged   int           `json:"logged"`
	Rejected int           `json:"rejected"`
	Duration time.Duration `json:"duration_ns"`
	PerSec   float64       `json:"events_per_second"`
}

func (a *app) seedEvents(cmd *cobra.Command, opts *seedOptions) error {
	if opts.count <= 0 {
		return fmt.Errorf("%w: --count must be positive", models.ErrConfiguration)
	}
	reqs := opts.generate()

	var summary seedSummary
	began := time.Now()
	_, err := a.withService(cmd.Context(), true, func(svc *service.Service) error {
		for _, req := range reqs {
			if err := logWithBackoff(cmd.Context(), svc, req); err != nil {
				summary.Rejected++
				a.logger.Warn("seed event rejected", logging.EventType(req.EventType), logging.Error(err))
				continue
			}
			summary.Logged++
		}
		return nil
	})
	if err != nil {
		return err
	}
	summary.Duration = time.Since(began)
	if secs := summary.Duration.Seconds(); secs > 0 {
		summary.PerSec = float64(summary.Logged) / secs
	}

	if a.printer.Format() == output.FormatJSON {
		return a.printer.JSON(summary)
	}
	a.printer.Success("Logged %d events in %s (%.1f events/s)", summary.Logged, summary.Duration.Round(time.Millisecond), summary.PerSec)
	if summary.Rejected > 0 {
		a.printer.Warn("%d events rejected", summary.Rejected)
	}
	return nil
}

// logWithBackoff retries while the worker queues are full.
func logWithBackoff(ctx context.Context, svc *service.Service, req service.LogRequest) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Millisecond
	policy.MaxInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = time.Minute

	return backoff.Retry(func() error {
		_, err := svc.LogEvent(ctx, req)
		if err != nil && !errors.Is(err, models.ErrQueueFull) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx))
}
