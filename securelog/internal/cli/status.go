package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/output"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/service"
)

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show chain, storage, SIEM and key status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var report service.StatusReport
			_, err := a.withService(cmd.Context(), false, func(svc *service.Service) error {
				if svc.Storage != nil {
					svc.Storage.CheckHealth(cmd.Context())
				}
				var serr error
				report, serr = svc.Status(cmd.Context())
				return serr
			})
			if err != nil {
				return err
			}
			if a.printer.Format() == output.FormatJSON {
				return a.printer.JSON(report)
			}
			a.printStatus(report)
			return nil
		},
	}
}

func (a *app) printStatus(r service.StatusReport) {
	p := a.printer
	p.Info("Chain length:  %d", r.ChainLength)
	if r.MerkleRoot != "" {
		p.Info("Merkle root:   %s", r.MerkleRoot)
	}
	versions := make([]string, len(r.KeyVersions))
	for i, v := range r.KeyVersions {
		versions[i] = strconv.Itoa(v)
	}
	p.Info("Key versions:  %s", strings.Join(versions, ", "))
	if r.DLQ.Enabled {
		p.Info("DLQ files:     %d (%s)", r.DLQ.Files, r.DLQ.BasePath)
	}
	p.Newline()

	storage := output.NewTable("LOCATION", "KIND", "PRIORITY", "ACTIVE")
	for _, l := range r.Storage {
		storage.AddRow(l.ID, l.Kind, strconv.Itoa(l.Priority), activeLabel(p, l.Active))
	}
	p.Render(storage)

	if len(r.SIEM) == 0 {
		return
	}
	p.Newline()
	siem := output.NewTable("CONNECTOR", "HEALTHY", "SENT", "FAILED", "BREAKER", "LAST SUCCESS")
	for _, c := range r.SIEM {
		last := "-"
		if !c.LastSuccess.IsZero() {
			last = c.LastSuccess.Format(time.RFC3339)
		}
		siem.AddRow(c.Name, activeLabel(p, c.Healthy), strconv.FormatUint(c.Sent, 10),
			strconv.FormatUint(c.Failed, 10), c.BreakerState, last)
	}
	p.Render(siem)
}

func activeLabel(p *output.Printer, ok bool) string {
	if ok {
		return p.Colorize("yes", output.FgGreen)
	}
	return p.Colorize("no", output.FgRed, output.Bold)
}
