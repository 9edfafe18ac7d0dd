package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/output"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/service"
)

type logOptions struct {
	eventType     string
	severity      string
	payload       string
	actor         string
	correlationID string
	compliance    bool
	noNotify      bool
}

func newLogCommand(a *app) *cobra.Command {
	opts := &logOptions{}
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Log a single event",
		Example: `  securelog log --type emergency_stop --severity critical --payload '{"reason":"manual"}' --actor op1
  securelog log --type firmware_update --severity medium --compliance`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.logEvent(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.eventType, "type", "", "event type (required)")
	cmd.Flags().StringVar(&opts.severity, "severity", string(models.SeverityInfo), "info, low, medium, high or critical")
	cmd.Flags().StringVar(&opts.payload, "payload", "", "JSON object with event details")
	cmd.Flags().StringVar(&opts.actor, "actor", "", "user or subsystem that caused the event")
	cmd.Flags().StringVar(&opts.correlationID, "correlation-id", "", "correlation id shared by related events")
	cmd.Flags().BoolVar(&opts.compliance, "compliance", false, "replicate a signed evidence bundle")
	cmd.Flags().BoolVar(&opts.noNotify, "no-notify", false, "skip notification rules")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func (o *logOptions) request() (service.LogRequest, error) {
	sev, err := models.ParseSeverity(o.severity)
	if err != nil {
		return service.LogRequest{}, err
	}
	req := service.LogRequest{
		EventType:          o.eventType,
		Severity:           sev,
		Actor:              o.actor,
		CorrelationID:      o.correlationID,
		ComplianceEvidence: o.compliance,
	}
	if o.payload != "" {
		if err := json.Unmarshal([]byte(o.payload), &req.Payload); err != nil {
			return service.LogRequest{}, fmt.Errorf("%w: --payload must be a JSON object: %w", models.ErrConfiguration, err)
		}
	}
	if o.noNotify {
		notify := false
		req.Notify = &notify
	}
	return req, nil
}

func (a *app) logEvent(cmd *cobra.Command, opts *logOptions) error {
	req, err := opts.request()
	if err != nil {
		return err
	}

	var id string
	svc, err := a.withService(cmd.Context(), true, func(svc *service.Service) error {
		var lerr error
		id, lerr = svc.LogEvent(cmd.Context(), req)
		return lerr
	})
	if err != nil {
		return err
	}

	status, serr := svc.EventStatus(id)
	if a.printer.Format() == output.FormatJSON {
		if serr != nil {
			return a.printer.JSON(map[string]string{"event_id": id})
		}
		return a.printer.JSON(status)
	}

	a.printer.Success("Logged %s event %s", req.Severity, id)
	if serr == nil {
		if status.ChainIndex != nil {
			a.printer.Info("  chain index: %d", *status.ChainIndex)
		}
		a.printer.Info("  state:       %s", status.State)
		for stage, msg := range status.StageErrors {
			a.printer.Warn("%s stage degraded: %s", stage, msg)
		}
	}
	return nil
}
