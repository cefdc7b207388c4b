package session

import "time"

// Session records the run a tslive host is currently supervising, so that a
// second invocation can report on it or stop it.
type Session struct {
	ID            string    `json:"id"`
	FilePath      string    `json:"file_path"`
	WorkspaceRoot string    `json:"workspace_root,omitempty"`
	HostPID       int       `json:"host_pid"`
	ChildPID      int       `json:"child_pid,omitempty"`
	StartTime     time.Time `json:"start_time"`
	// LastStart is when the current child was spawned; it differs from
	// StartTime once the file watcher has restarted the run.
	LastStart time.Time `json:"last_start"`
	Restarts  int       `json:"restarts"`
}
