//go:build !unix

package tools

import "os"

func openNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
    return os.OpenFile(path, flag, perm)
}
