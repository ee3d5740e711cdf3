package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/dryas/packsync/internal/buildver"
	"github.com/dryas/packsync/internal/entitlement"
	"github.com/dryas/packsync/internal/fingerprint"
	"github.com/dryas/packsync/internal/logging"
	"github.com/dryas/packsync/internal/manifest"
	"github.com/dryas/packsync/internal/planner"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show installed vs latest version and pack summary",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		store, err := fingerprint.Load(fingerprint.DefaultLearnedPath())
		if err != nil {
			return err
		}
		res, err := fingerprint.Detect(installDir, store)
		if err != nil {
			return err
		}

		logging.Infoln("Fetching update manifest...")
		m, err := manifest.Fetch(ctx, manifest.URL(manifestURL))
		if err != nil {
			return err
		}

		logging.Infof("Installed:  %s (%s)\n", orUnknown(res.Version), res.Confidence)
		logging.Infof("Latest:     %s\n", orUnknown(m.Latest))
		if m.GameLatest != "" && buildver.Newer(m.GameLatest, m.Latest) {
			logging.Infoln(colorize(fmt.Sprintf("[yellow]Note: build %s is out but has no patch route yet", m.GameLatest)))
		}

		switch {
		case m.Latest == "":
			logging.Infoln("\nManifest is content-only; no binary update check.")
		case res.Version == "":
			logging.Infoln(colorize("\n[red]Installed version unknown; cannot plan an update."))
		default:
			plan, err := planner.Compute(m.Patches, res.Version, m.Latest)
			switch {
			case errors.Is(err, planner.ErrNoPath):
				logging.Infoln(colorize("\n[red]No update path from the installed version."))
			case err != nil:
				return err
			case plan.UpToDate():
				logging.Infoln(colorize("\n[green]Already up to date."))
			default:
				logging.Infoln(colorize(fmt.Sprintf("\n[yellow]Update available: %d steps, %d bytes total", len(plan.Steps), plan.TotalSize())))
				for _, s := range plan.Steps {
					logging.Infof("  %s -> %s (%d bytes)\n", s.From, s.To, s.TotalSize())
				}
			}
		}

		catalog, err := entitlement.LoadCatalog()
		if err != nil {
			return err
		}
		catalog.MergeRemote(m.DLCCatalog)

		statuses, err := entitlement.NewReconciler(catalog).Statuses(installDir)
		if err != nil {
			return err
		}
		var installed, enabled int
		for _, s := range statuses {
			if s.Installed {
				installed++
			}
			if s.Registered && s.Enabled {
				enabled++
			}
		}
		logging.Infof("\nPacks: %d known, %d installed, %d enabled\n", len(statuses), installed, enabled)

		return nil
	},
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
