package update

// Status is the engine's externally visible state. Exactly one update runs
// at a time; every status except idle and error means a stage of that one
// update is active.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusChecking    Status = "checking"
	StatusDownloading Status = "downloading"
	StatusVerifying   Status = "verifying"
	StatusBackingUp   Status = "backing-up"
	StatusInstalling  Status = "installing"
	StatusRestarting  Status = "restarting"
	StatusError       Status = "error"
)
