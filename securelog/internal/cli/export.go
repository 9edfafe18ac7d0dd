package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/service"
)

type exportOptions struct {
	start   string
	end     string
	decrypt bool
	file    string
}

func newExportCommand(a *app) *cobra.Command {
	opts := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export chain entries and encrypted records for compliance",
		Long: `Writes a JSON bundle with the chain entries and encrypted records of the
period plus the Merkle root over the exported entries. Records stay sealed
unless --decrypt is given.`,
		Example: `  securelog export --start 2026-01-01T00:00:00Z --end 2026-02-01T00:00:00Z --file jan.json
  securelog export --start 168h --decrypt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.export(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.start, "start", "", "period start (RFC3339 or duration ago)")
	cmd.Flags().StringVar(&opts.end, "end", "", "period end (RFC3339 or duration ago)")
	cmd.Flags().BoolVar(&opts.decrypt, "decrypt", false, "include decrypted payloads")
	cmd.Flags().StringVar(&opts.file, "file", "", "write the bundle to this file instead of stdout")
	return cmd
}

func (a *app) export(cmd *cobra.Command, opts *exportOptions) error {
	now := time.Now()
	start, err := parseTime(opts.start, now)
	if err != nil {
		return err
	}
	end, err := parseTime(opts.end, now)
	if err != nil {
		return err
	}

	var bundle *service.ExportBundle
	_, err = a.withService(cmd.Context(), false, func(svc *service.Service) error {
		var eerr error
		bundle, eerr = svc.ExportLogs(cmd.Context(), start, end, opts.decrypt)
		return eerr
	})
	if err != nil {
		return err
	}

	if opts.file == "" {
		return a.printer.JSON(bundle)
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	if err := os.WriteFile(opts.file, data, 0o600); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	a.printer.Success("Exported %d chain entries and %d records to %s",
		len(bundle.HashChain.Entries), len(bundle.EncryptedLogs), opts.file)
	if bundle.HashChain.MerkleRoot != "" {
		a.printer.Info("  merkle root: %s", bundle.HashChain.MerkleRoot)
	}
	return nil
}
