package cmd

import (
	"errors"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/tslive/internal/host"
	"github.com/fakeyudi/tslive/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running tslive session",
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
			cmd.Println("no active session")
			return nil
		}

		workspace := s.WorkspaceRoot
		if workspace == "" {
			workspace = "(none, not watching)"
		}
		child := "stopped"
		if s.ChildPID != 0 {
			child = strconv.Itoa(s.ChildPID)
		}

		cmd.Printf("File: %s\n", s.FilePath)
		cmd.Printf("Workspace: %s\n", workspace)
		cmd.Printf("Host PID: %d\n", s.HostPID)
		cmd.Printf("Child PID: %s\n", child)
		cmd.Printf("Started: %s\n", s.StartTime.Format(time.RFC3339))
		cmd.Printf("Uptime: %s\n", time.Since(s.StartTime).Round(time.Second).String())
		cmd.Printf("Restarts: %d\n", s.Restarts)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
