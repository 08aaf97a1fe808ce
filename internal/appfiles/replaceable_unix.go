//go:build !windows

package appfiles

import "os"

// defaultReplaceable on Unix: a rename over an open file succeeds, the old
// inode lives on until its last reader closes it. Only a file we cannot
// open for writing at all (permissions) is treated as unswappable.
func defaultReplaceable(path string) bool {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return os.IsNotExist(err)
	}
	f.Close()
	return true
}
