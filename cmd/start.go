package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/tslive/internal/editor"
	"github.com/fakeyudi/tslive/internal/host"
	"github.com/fakeyudi/tslive/internal/script"
)

var startDocument string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the file focused in your editor and restart it on changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		detector, err := editor.NewDetector()
		if err != nil {
			return err
		}

		var doc *script.Document
		if startDocument != "" {
			doc = script.NewDocument(startDocument)
		} else {
			doc, err = detector.FocusedDocument()
			if err != nil && !errors.Is(err, editor.ErrNoDocument) {
				return err
			}
		}

		return liveHost(cmd, detector, func(h *host.Host) error {
			return h.StartFocused(doc)
		})
	},
}

func init() {
	startCmd.Flags().StringVar(&startDocument, "document", "", "treat this path as the focused document instead of asking the editor")
	rootCmd.AddCommand(startCmd)
}
