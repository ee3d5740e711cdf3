package cmd

import (
	"fmt"

	"github.com/dryas/packsync/internal/fingerprint"
	"github.com/dryas/packsync/internal/logging"
	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Identify the installed build by content fingerprint",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := fingerprint.Load(fingerprint.DefaultLearnedPath())
		if err != nil {
			return err
		}

		res, err := fingerprint.Detect(installDir, store)
		if err != nil {
			return err
		}

		switch res.Confidence {
		case fingerprint.Definitive:
			logging.Infoln(colorize(fmt.Sprintf("[green]Version:    %s", res.Version)))
		case fingerprint.Probable:
			logging.Infoln(colorize(fmt.Sprintf("[yellow]Version:    %s (ambiguous)", res.Version)))
		default:
			logging.Infoln(colorize("[red]Version:    unknown"))
		}
		logging.Infof("Confidence: %s\n", res.Confidence)
		logging.Infof("Sentinels:  %d hashed\n", len(res.LocalHashes))

		if len(res.Matched) > 1 {
			logging.Infoln("\nCandidates:")
			for _, c := range res.Matched {
				logging.Infof("  %s (%d sentinels matched)\n", c.Version, c.Matched)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}
