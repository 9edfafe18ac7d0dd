package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/output"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/service"
)

type searchOptions struct {
	eventType     string
	severity      string
	actor         string
	correlationID string
	start         string
	end           string
	limit         int
}

func newSearchCommand(a *app) *cobra.Command {
	opts := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search encrypted log metadata",
		Long: `Searches the plaintext metadata stored next to each encrypted record.
Payloads stay encrypted; use export --decrypt to read them.`,
		Example: `  securelog search --type emergency_stop --start 24h
  securelog search --severity critical --actor op1 --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.search(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.eventType, "type", "", "event type")
	cmd.Flags().StringVar(&opts.severity, "severity", "", "severity")
	cmd.Flags().StringVar(&opts.actor, "actor", "", "actor")
	cmd.Flags().StringVar(&opts.correlationID, "correlation-id", "", "correlation id")
	cmd.Flags().StringVar(&opts.start, "start", "", "earliest timestamp (RFC3339 or duration ago, e.g. 24h)")
	cmd.Flags().StringVar(&opts.end, "end", "", "latest timestamp (RFC3339 or duration ago)")
	cmd.Flags().IntVar(&opts.limit, "limit", 100, "maximum rows")
	return cmd
}

func (o *searchOptions) filter(now time.Time) (models.SearchFilter, error) {
	f := models.SearchFilter{
		EventType:     o.eventType,
		Actor:         o.actor,
		CorrelationID: o.correlationID,
		Limit:         o.limit,
	}
	if o.severity != "" {
		sev, err := models.ParseSeverity(o.severity)
		if err != nil {
			return f, err
		}
		f.Severity = sev
	}
	var err error
	if f.Start, err = parseTime(o.start, now); err != nil {
		return f, err
	}
	if f.End, err = parseTime(o.end, now); err != nil {
		return f, err
	}
	return f, nil
}

func (a *app) search(cmd *cobra.Command, opts *searchOptions) error {
	filter, err := opts.filter(time.Now())
	if err != nil {
		return err
	}

	var rows []models.LogMetadata
	_, err = a.withService(cmd.Context(), false, func(svc *service.Service) error {
		var serr error
		rows, serr = svc.SearchLogs(cmd.Context(), filter)
		return serr
	})
	if err != nil {
		return err
	}

	if a.printer.Format() == output.FormatJSON {
		if rows == nil {
			rows = []models.LogMetadata{}
		}
		return a.printer.JSON(rows)
	}
	if len(rows) == 0 {
		a.printer.Info("No matching records")
		return nil
	}
	tbl := output.NewTable("ID", "TIMESTAMP", "TYPE", "SEVERITY", "ACTOR", "CORRELATION")
	for _, r := range rows {
		tbl.AddRow(r.ID, r.Timestamp.Format(time.RFC3339), r.EventType, a.printer.SeverityColor(r.Severity), r.Actor, r.CorrelationID)
	}
	a.printer.Render(tbl)
	a.printer.Info("%d records", len(rows))
	return nil
}
