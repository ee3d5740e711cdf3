package cmd

import (
	"bytes"

	"github.com/BurntSushi/toml"
	"github.com/dryas/packsync/internal/logging"
	"github.com/dryas/packsync/internal/profile"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage saved option profiles",
}

// Flags for profile create
var (
	profInstallDir    *string
	profManifestURL   *string
	profDownloadDir   *string
	profKeepDownloads *bool
	profVerbose       *bool
	profLogFile       *string
	profNoColor       *bool
)

var profileCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new profile",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := &profile.Profile{}

		if cmd.Flags().Changed("install-dir") {
			p.InstallDir = profInstallDir
		}
		if cmd.Flags().Changed("manifest-url") {
			p.ManifestURL = profManifestURL
		}
		if cmd.Flags().Changed("download-dir") {
			p.DownloadDir = profDownloadDir
		}
		if cmd.Flags().Changed("keep-downloads") {
			p.KeepDownloads = profKeepDownloads
		}
		if cmd.Flags().Changed("verbose") {
			p.Verbose = profVerbose
		}
		if cmd.Flags().Changed("log-file") {
			p.LogFile = profLogFile
		}
		if cmd.Flags().Changed("no-color") {
			p.NoColor = profNoColor
		}

		if err := profile.Save(args[0], p); err != nil {
			return err
		}
		logging.Infof("Profile %q saved to %s\n", args[0], profile.Dir())
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved profiles",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := profile.List()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			logging.Infoln("No profiles saved.")
			return nil
		}
		for _, n := range names {
			logging.Infoln(n)
		}
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a profile's contents",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := profile.Load(args[0])
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(p); err != nil {
			return err
		}
		logging.Infof("%s", buf.String())
		return nil
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a saved profile",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := profile.Delete(args[0]); err != nil {
			return err
		}
		logging.Infof("Profile %q deleted.\n", args[0])
		return nil
	},
}

func init() {
	// Wire up flags for create. We use local variables so they only apply to
	// this subcommand and don't collide with the root/update flags.
	profInstallDir = profileCreateCmd.Flags().String("install-dir", "", "Product installation root directory")
	profManifestURL = profileCreateCmd.Flags().String("manifest-url", "", "Update manifest URL")
	profDownloadDir = profileCreateCmd.Flags().String("download-dir", "", "Directory for downloaded artifacts")
	profKeepDownloads = profileCreateCmd.Flags().Bool("keep-downloads", false, "Keep downloaded artifacts after updating")
	profVerbose = profileCreateCmd.Flags().Bool("verbose", false, "Enable verbose logging")
	profLogFile = profileCreateCmd.Flags().String("log-file", "", "Write command output to a log file")
	profNoColor = profileCreateCmd.Flags().Bool("no-color", false, "Disable colored output")

	profileCmd.AddCommand(profileCreateCmd, profileListCmd, profileShowCmd, profileDeleteCmd)
	rootCmd.AddCommand(profileCmd)
}
