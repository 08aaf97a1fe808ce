//go:build windows

package appfiles

import (
	"os"

	"golang.org/x/sys/windows"
)

// defaultReplaceable on Windows probes for a sharing violation: a file held
// open by a running process cannot be opened with exclusive access, and an
// in-place swap would fail. Such targets go through the deferred-replacement
// queue instead.
func defaultReplaceable(path string) bool {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return false
	}
	// Request exclusive access (no share mode). ERROR_SHARING_VIOLATION
	// means someone holds the file open.
	h, err := windows.CreateFile(
		p,
		windows.GENERIC_WRITE,
		0,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		if err == windows.ERROR_FILE_NOT_FOUND || err == windows.ERROR_PATH_NOT_FOUND {
			return true
		}
		if err == windows.ERROR_SHARING_VIOLATION {
			return false
		}
		return os.IsNotExist(err)
	}
	windows.CloseHandle(h)
	return true
}
