package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"

	"github.com/dryas/packsync/internal/logging"
	"github.com/dryas/packsync/internal/manifest"
	"github.com/dryas/packsync/internal/pipeline"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	target        string
	dryRun        bool
	force         bool
	keepDownloads bool
	downloadDir   string
	applyCmd      string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update the installation to the latest (or a given) version",
	Long: `Runs the full pipeline: detect the installed build, plan the cheapest
patch sequence from the manifest's patch graph, download each step's
artifacts with resume, hand them to the external patch applier, confirm
the resulting version, and restore pack entitlements.

Without --apply-cmd the pipeline stops after downloading; artifacts stay
in the download directory for a later run.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		runner, err := pipeline.NewRunner(pipeline.Options{
			InstallRoot:   installDir,
			ManifestURL:   manifestURL,
			Target:        target,
			DownloadDir:   downloadDir,
			KeepDownloads: keepDownloads || applyCmd == "",
			Force:         force,
			Apply:         externalApplier(applyCmd),
			Events:        newEventPrinter(),
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := runner.Store().Flush(); err != nil {
				logging.Warnf("could not persist learned fingerprints: %v\n", err)
			}
		}()

		if dryRun {
			if _, err := runner.DetectVersion(ctx); err != nil {
				return err
			}
			plan, err := runner.CheckForUpdate(ctx)
			if err != nil {
				return err
			}
			if plan == nil || plan.UpToDate() {
				logging.Infoln("Nothing to do.")
				return nil
			}
			logging.Infof("\nDry run - no changes made:\n")
			for _, s := range plan.Steps {
				logging.Infof("  %s -> %s (%d files, %d bytes)\n", s.From, s.To, len(s.Files), s.TotalSize())
			}
			return nil
		}

		if applyCmd == "" {
			if _, err := runner.DetectVersion(ctx); err != nil {
				return err
			}
			plan, err := runner.CheckForUpdate(ctx)
			if err != nil {
				return err
			}
			if plan == nil || plan.UpToDate() {
				logging.Infoln("Nothing to do.")
				return nil
			}
			if err := runner.DownloadUpdate(ctx); err != nil {
				return err
			}
			logging.Infoln("Artifacts downloaded. Re-run with --apply-cmd to apply the patch.")
			return nil
		}

		return runner.Run(ctx)
	},
}

// externalApplier wraps an external patch-application program as the
// pipeline's applier: it receives the install root, the edge's versions
// and the ordered artifact paths, and its output is forwarded as events.
// Returns nil when command is empty so the pipeline can refuse patching.
func externalApplier(command string) pipeline.PatchApplier {
	if command == "" {
		return nil
	}
	return func(ctx context.Context, edge manifest.PatchEdge, artifacts []string, emit pipeline.Sink) error {
		args := append([]string{installDir, edge.From, edge.To}, artifacts...)
		c := exec.CommandContext(ctx, command, args...)

		stdout, err := c.StdoutPipe()
		if err != nil {
			return err
		}
		c.Stderr = c.Stdout
		if err := c.Start(); err != nil {
			return fmt.Errorf("starting %s: %w", command, err)
		}

		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			emit(pipeline.Event{Kind: pipeline.Info, Message: scanner.Text()})
		}
		if err := c.Wait(); err != nil {
			return fmt.Errorf("%s: %w", command, err)
		}
		return nil
	}
}

// newEventPrinter renders pipeline events for the terminal, with a byte
// progress bar for downloads.
func newEventPrinter() pipeline.Sink {
	var bar *progressbar.ProgressBar
	var barTotal int64

	finishBar := func() {
		if bar != nil {
			bar.Finish()
			bar = nil
			barTotal = 0
		}
	}

	return func(e pipeline.Event) {
		switch e.Kind {
		case pipeline.Header:
			finishBar()
			logging.Infoln(colorize("[bold]" + e.Message))
		case pipeline.Progress:
			if bar == nil || e.BytesTotal != barTotal {
				finishBar()
				barTotal = e.BytesTotal
				bar = progressbar.DefaultBytes(e.BytesTotal, "  downloading")
			}
			bar.Set64(e.BytesDone)
		case pipeline.Warning:
			finishBar()
			logging.Warnf("%s\n", e.Message)
		case pipeline.Failure:
			finishBar()
			logging.Infoln(colorize("[red]" + e.Message))
		case pipeline.Finished:
			finishBar()
			logging.Infoln(colorize("[green]" + e.Message))
		default:
			finishBar()
			logging.Infoln(e.Message)
		}
	}
}

func init() {
	updateCmd.Flags().StringVar(&target, "target", "", "Update to a specific version instead of the manifest's latest")
	updateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the planned steps without downloading or applying")
	updateCmd.Flags().BoolVar(&force, "force", false, "Proceed even when version detection is ambiguous")
	updateCmd.Flags().BoolVar(&keepDownloads, "keep-downloads", false, "Keep downloaded artifacts after a successful update")
	updateCmd.Flags().StringVar(&downloadDir, "download-dir", "", "Directory for downloaded artifacts (default: ~/.cache/packsync/downloads/)")
	updateCmd.Flags().StringVar(&applyCmd, "apply-cmd", "", "External patch-application program invoked per step")
	rootCmd.AddCommand(updateCmd)
}
