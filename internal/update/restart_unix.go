//go:build !windows

package update

import (
	"os/exec"
	"syscall"
)

// relaunch starts the application detached in its own session so it
// survives the updater exiting.
func relaunch(path string) error {
	cmd := exec.Command(path)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd.Start()
}
