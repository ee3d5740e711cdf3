package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dryas/packsync/internal/entitlement"
	"github.com/dryas/packsync/internal/logging"
	"github.com/spf13/cobra"
)

var dlcCmd = &cobra.Command{
	Use:   "dlc",
	Short: "Inspect and reconcile optional-pack entitlements",
}

var dlcListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every known pack with its install and entitlement state",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		statuses, err := newReconciler().Statuses(installDir)
		if err != nil {
			return err
		}

		for _, s := range statuses {
			logging.Infof("%-6s %-24s %s\n", s.Info.ID, s.Info.Name, colorize(describeStatus(s)))
		}
		return nil
	},
}

var dlcEnableCmd = &cobra.Command{
	Use:   "enable <pack-id>...",
	Short: "Enable packs in the entitlement config",
	Args:  usageArgs(cobra.MinimumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPacks(args, true)
	},
}

var dlcDisableCmd = &cobra.Command{
	Use:   "disable <pack-id>...",
	Short: "Disable packs in the entitlement config",
	Args:  usageArgs(cobra.MinimumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPacks(args, false)
	},
}

var dlcSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the entitlement config with on-disk pack presence",
	Long: `Derives the enabled set purely from which pack directories exist:
present packs are enabled, absent packs disabled. Writes only when the
computed set differs from the current one.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		delta, err := newReconciler().AutoReconcile(installDir)
		if err != nil {
			return err
		}
		if len(delta) == 0 {
			logging.Infoln("Already in sync.")
			return nil
		}
		for id, enabled := range delta {
			if enabled {
				logging.Infoln(colorize("  [green]+ enabled " + id))
			} else {
				logging.Infoln(colorize("  [red]- disabled " + id))
			}
		}
		return nil
	},
}

var dlcExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Save the enabled flags of registered packs to a JSON file",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		exported, err := newReconciler().ExportEnabled(installDir)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(exported, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", args[0], err)
		}
		logging.Infof("Exported %d entries to %s\n", len(exported), args[0])
		return nil
	},
}

var dlcImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Rewrite the entitlement config from an exported JSON file",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		var exported map[string]bool
		if err := json.Unmarshal(data, &exported); err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}
		if err := newReconciler().ImportEnabled(installDir, exported); err != nil {
			return err
		}
		logging.Infof("Imported %d entries.\n", len(exported))
		return nil
	},
}

func newReconciler() *entitlement.Reconciler {
	catalog, err := entitlement.LoadCatalog()
	if err != nil {
		// The bundled catalog is compiled in; failing to parse it is a
		// build defect, not a runtime condition.
		panic(err)
	}
	return entitlement.NewReconciler(catalog)
}

// setPacks flips the given packs on top of the current enabled set and
// rewrites the config.
func setPacks(ids []string, enabled bool) error {
	rec := newReconciler()
	statuses, err := rec.Statuses(installDir)
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(statuses))
	set := make(map[string]bool)
	for _, s := range statuses {
		known[s.Info.ID] = true
		if s.Registered && s.Enabled {
			set[s.Info.ID] = true
		}
	}

	var unknown []string
	for _, id := range ids {
		id = strings.ToLower(id)
		if !known[id] {
			unknown = append(unknown, id)
			continue
		}
		if enabled {
			set[id] = true
		} else {
			delete(set, id)
		}
	}
	if len(unknown) > 0 {
		return wrapUsageError(fmt.Errorf("unknown pack id(s): %s", strings.Join(unknown, ", ")))
	}

	if err := rec.ApplyChanges(installDir, set); err != nil {
		return err
	}
	logging.Infof("Updated %d pack(s).\n", len(ids))
	return nil
}

func describeStatus(s entitlement.Status) string {
	switch {
	case s.Registered && s.Enabled && s.Complete:
		return "[green]enabled"
	case s.Registered && s.Enabled:
		return "[yellow]enabled (files incomplete)"
	case s.Registered:
		return "[red]disabled"
	case s.Owned:
		return "[cyan]owned"
	case s.Installed:
		return "[yellow]installed, unregistered"
	default:
		return "[dark_gray]not installed"
	}
}

func init() {
	dlcCmd.AddCommand(dlcListCmd, dlcEnableCmd, dlcDisableCmd, dlcSyncCmd, dlcExportCmd, dlcImportCmd)
	rootCmd.AddCommand(dlcCmd)
}
