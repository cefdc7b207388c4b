package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fakeyudi/tslive/internal/editor"
	"github.com/fakeyudi/tslive/internal/host"
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run a JavaScript, TypeScript or TSX file and restart it on changes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var file string
		if len(args) == 1 {
			file = args[0]
		}

		// Editor folders only refine workspace detection; run works without them.
		detector, _ := editor.NewDetector()

		return liveHost(cmd, detector, func(h *host.Host) error {
			return h.RunFile(file)
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
