package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/tslive/internal/host"
	"github.com/fakeyudi/tslive/internal/session"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tslive session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewStore()
		if err != nil {
			return err
		}

		s, err := store.Load()
		if err != nil {
			if errors.Is(err, session.ErrNoSession) {
				cmd.Println("no active session")
				return nil
			}
			return err
		}

		if !host.Alive(s.HostPID) {
			// The host died without cleaning up.
			if err := store.Delete(); err != nil {
				return err
			}
			cmd.Println("no active session")
			return nil
		}

		if err := host.SignalStop(s.HostPID); err != nil {
			return fmt.Errorf("stopping tslive (pid %d): %w", s.HostPID, err)
		}

		cmd.Printf("Stopped %s (pid %d).\n", filepath.Base(s.FilePath), s.HostPID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
