package archiver

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"
)

// freeSpace returns the bytes available to unprivileged users on the
// volume holding dir
func freeSpace(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, fmt.Errorf("disk usage %s: %w", dir, err)
	}
	return usage.Free, nil
}
