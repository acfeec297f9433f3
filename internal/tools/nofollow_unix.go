//go:build unix

package tools

import (
    "os"

    "golang.org/x/sys/unix"
)

// openNoFollow refuses to open path if its final component is a symlink,
// closing the gap between validation and open.
func openNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
    return os.OpenFile(path, flag|unix.O_NOFOLLOW, perm)
}
