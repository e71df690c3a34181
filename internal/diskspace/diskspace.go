// Package diskspace reports filesystem capacity for admission control.
package diskspace

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Available returns the number of bytes available to unprivileged callers on
// the filesystem containing path.
func Available(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
