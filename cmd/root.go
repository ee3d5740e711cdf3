package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dryas/packsync/internal/logging"
	"github.com/dryas/packsync/internal/profile"
	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"
)

var (
	installDir  string
	manifestURL string
	profileName string
	verbose     bool
	logFile     string
	noColor     bool
)

var rootCmd = &cobra.Command{
	Use:           "packsync",
	Short:         "Keep a local installation in sync with its published target state",
	Long:          "Detect the installed build by content fingerprint, plan and download the cheapest patch sequence to the latest version, and reconcile optional-pack entitlements.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Apply profile defaults for flags not explicitly set by the user.
		if profileName != "" {
			p, err := profile.Load(profileName)
			if err != nil {
				return err
			}
			if p.InstallDir != nil && !cmd.Flags().Changed("install-dir") {
				installDir = *p.InstallDir
			}
			if p.ManifestURL != nil && !cmd.Flags().Changed("manifest-url") {
				manifestURL = *p.ManifestURL
			}
			if p.DownloadDir != nil && !cmd.Flags().Changed("download-dir") {
				downloadDir = *p.DownloadDir
			}
			if p.KeepDownloads != nil && !cmd.Flags().Changed("keep-downloads") {
				keepDownloads = *p.KeepDownloads
			}
			if p.Verbose != nil && !cmd.Flags().Changed("verbose") {
				verbose = *p.Verbose
			}
			if p.LogFile != nil && !cmd.Flags().Changed("log-file") {
				logFile = *p.LogFile
			}
			if p.NoColor != nil && !cmd.Flags().Changed("no-color") {
				noColor = *p.NoColor
			}
		}

		logging.SetVerbose(verbose)
		if err := logging.SetOutputFile(logFile); err != nil {
			return fmt.Errorf("opening log file %q: %w", logFile, err)
		}
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	closeErr := logging.Close()
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "Error closing log file: %v\n", closeErr)
		if err == nil {
			os.Exit(1)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if isUsageError(err) {
			if cmd, _, findErr := rootCmd.Find(os.Args[1:]); findErr == nil && cmd != nil {
				_ = cmd.Usage()
			} else {
				_ = rootCmd.Usage()
			}
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return wrapUsageError(err)
	})

	rootCmd.PersistentFlags().StringVarP(&installDir, "install-dir", "d", ".", "Product installation root directory")
	rootCmd.PersistentFlags().StringVar(&manifestURL, "manifest-url", "", "Update manifest URL (also reads PACKSYNC_MANIFEST_URL env)")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Load a saved option profile by name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write command output to a log file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

// colorize renders colorstring markup, honoring --no-color.
func colorize(s string) string {
	c := colorstring.Colorize{Colors: colorstring.DefaultColors, Disable: noColor, Reset: true}
	return c.Color(s)
}

type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func wrapUsageError(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if validate == nil {
			return nil
		}
		if err := validate(cmd, args); err != nil {
			return wrapUsageError(err)
		}
		return nil
	}
}

func isUsageError(err error) bool {
	var ue *usageError
	if errors.As(err, &ue) {
		return true
	}

	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command ")
}
