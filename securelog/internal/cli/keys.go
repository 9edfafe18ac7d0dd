package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/keys"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/output"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/service"
)

func newKeysCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage payload encryption keys",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "rotate",
			Short: "Create a new key version for future records",
			Long: `Creates a new encryption key version. Existing records keep the version
they were sealed with and stay decryptable.`,
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.rotateKey(cmd)
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List key versions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.listKeys(cmd)
			},
		},
	)
	return cmd
}

func (a *app) rotateKey(cmd *cobra.Command) error {
	if a.cfg.Keys.Passphrase == "" {
		a.printer.Warn("keys.passphrase is not set, the rotated key is lost on exit")
	}
	var kv keys.KeyVersion
	_, err := a.withService(cmd.Context(), false, func(svc *service.Service) error {
		var rerr error
		kv, rerr = svc.Keys.Rotate(cmd.Context())
		return rerr
	})
	if err != nil {
		return err
	}
	if a.printer.Format() == output.FormatJSON {
		return a.printer.JSON(kv)
	}
	a.printer.Success("Rotated to key version %d", kv.Version)
	return nil
}

type keyListing struct {
	Current  int               `json:"current"`
	Versions []keys.KeyVersion `json:"versions"`
}

func (a *app) listKeys(cmd *cobra.Command) error {
	var listing keyListing
	_, err := a.withService(cmd.Context(), false, func(svc *service.Service) error {
		cur, err := svc.Keys.Current()
		if err != nil {
			return err
		}
		listing.Current = cur.Version
		for _, v := range svc.Keys.Versions() {
			kv, err := svc.Keys.Get(v)
			if err != nil {
				return err
			}
			listing.Versions = append(listing.Versions, kv)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if a.printer.Format() == output.FormatJSON {
		return a.printer.JSON(listing)
	}
	tbl := output.NewTable("VERSION", "CREATED", "CURRENT")
	for _, kv := range listing.Versions {
		current := ""
		if kv.Version == listing.Current {
			current = "*"
		}
		tbl.AddRow(strconv.Itoa(kv.Version), kv.CreatedAt.Format(time.RFC3339), current)
	}
	a.printer.Render(tbl)
	return nil
}
