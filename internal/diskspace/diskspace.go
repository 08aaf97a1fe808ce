// Package diskspace gates updates on free disk space and watches for
// space exhaustion while a download is in flight.
package diskspace

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// SpaceMultiplier is how many times the package size must be free before an
// update may start: the archive, the extracted copy, and the pre-update
// backup all exist on disk at once.
const SpaceMultiplier = 3

// Required returns the free space an update of the given package size needs.
func Required(packageSize int64) uint64 {
	if packageSize <= 0 {
		return 0
	}
	return uint64(packageSize) * SpaceMultiplier
}

// Available returns the free bytes on the volume holding path.
func Available(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("query disk usage for %s: %w", path, err)
	}
	return usage.Free, nil
}

// Check reports whether the volume holding path has room for an update of
// the given package size.
func Check(path string, packageSize int64) (bool, error) {
	free, err := Available(path)
	if err != nil {
		return false, err
	}
	return free >= Required(packageSize), nil
}
