package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/output"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/service"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/storage"
)

func newVerifyCommand(a *app) *cobra.Command {
	var start uint64
	var repair bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain and replica consistency",
		Long: `Recomputes every chain hash from --start, checks links, proof of work
and signatures, and compares sampled replicas across storage locations.
Exits non-zero when a defect is found. With --repair, inconsistent replicas
are rewritten from the majority copy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.verify(cmd, start, repair)
		},
	}
	cmd.Flags().Uint64Var(&start, "start", 0, "first chain index to verify")
	cmd.Flags().BoolVar(&repair, "repair", false, "repair inconsistent replicas by majority vote")
	return cmd
}

type verifyResult struct {
	service.IntegrityReport
	Repairs []storage.RepairResult `json:"repairs,omitempty"`
}

func (a *app) verify(cmd *cobra.Command, start uint64, repair bool) error {
	var result verifyResult
	_, err := a.withService(cmd.Context(), false, func(svc *service.Service) error {
		report, err := svc.VerifyIntegrity(cmd.Context(), start)
		if err != nil {
			return err
		}
		result.IntegrityReport = report
		if repair && len(report.Storage.Inconsistent) > 0 {
			result.Repairs = svc.RepairReplicas(cmd.Context(), report)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if a.printer.Format() == output.FormatJSON {
		if err := a.printer.JSON(result); err != nil {
			return err
		}
	} else {
		a.printVerify(result)
	}

	if !result.Valid {
		return fmt.Errorf("%w: chain valid=%t, %d inconsistent replicas",
			models.ErrIntegrity, result.Chain.Valid, len(result.Storage.Inconsistent))
	}
	return nil
}

func (a *app) printVerify(r verifyResult) {
	p := a.printer
	if r.Chain.Valid {
		p.Success("Hash chain valid: %d entries from index %d", r.Chain.Length, r.Chain.StartIndex)
	} else {
		p.Error("Hash chain invalid: %d defects", len(r.Chain.Errors))
		tbl := output.NewTable("INDEX", "DEFECT")
		for _, e := range r.Chain.Errors {
			tbl.AddRow(fmt.Sprint(e.Index), e.Kind+": "+e.Detail)
		}
		p.Render(tbl)
	}
	if r.Chain.MerkleRoot != "" {
		p.Info("  merkle root: %s", r.Chain.MerkleRoot)
	}

	switch {
	case len(r.Storage.Inconsistent) > 0:
		p.Error("Replicas inconsistent: %d of %d sampled", len(r.Storage.Inconsistent), r.Storage.Checked)
		for _, rep := range r.Storage.Inconsistent {
			p.Info("  %s", rep.Path)
		}
	case r.Storage.Checked > 0:
		p.Success("Replicas consistent: %d sampled", r.Storage.Checked)
	}
	for _, e := range r.Storage.Errors {
		p.Warn("storage: %s", e)
	}

	for _, c := range r.SIEM {
		if !c.Healthy {
			p.Warn("SIEM connector %s unhealthy: %s", c.Name, c.LastError)
		}
	}
	for _, res := range r.Repairs {
		if len(res.Failed) > 0 {
			p.Error("Repair of %s failed at %s", res.Path, strings.Join(res.Failed, ", "))
			continue
		}
		p.Success("Repaired %s at %s", res.Path, strings.Join(res.Repaired, ", "))
	}
}
