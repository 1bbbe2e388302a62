//go:build linux

package peer

import (
	"errors"
	"os"
	"syscall"

	"github.com/kicksmash/smashfs/fs"
)

// fillSys copies inode, link and ownership details out of the
// platform stat when available.
func fillSys(d *fs.DirEnt, fi os.FileInfo) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	d.Ino = uint32(st.Ino)
	d.OwnerUID = uint32(st.Uid)
	d.GroupGID = uint32(st.Gid)
	d.Nlink = uint32(st.Nlink)
	d.Rdev = uint32(st.Rdev)
	d.Blocks = uint32(st.Blocks)
	d.BlkSize = uint32(st.Blksize)
	d.Atime = uint32(st.Atim.Sec)
	d.Ctime = uint32(st.Ctim.Sec)
}

// isNotEmpty reports a directory-not-empty failure.
func isNotEmpty(err error) bool {
	return errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST)
}
