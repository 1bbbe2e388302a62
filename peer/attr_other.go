//go:build !linux

package peer

import (
	"errors"
	"os"
	"syscall"

	"github.com/kicksmash/smashfs/fs"
)

// fillSys has no portable source for inode and ownership details here;
// the defaults from direntFor stand.
func fillSys(d *fs.DirEnt, fi os.FileInfo) {
}

// isNotEmpty reports a directory-not-empty failure.
func isNotEmpty(err error) bool {
	return errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST)
}
