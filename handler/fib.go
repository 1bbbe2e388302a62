package handler

import (
	"github.com/kicksmash/smashfs/dos"
	"github.com/kicksmash/smashfs/fs"
)

// mapErr translates a remote-file failure into the packet error code a
// DOS caller expects.
func mapErr(err error) int32 {
	rf, ok := err.(fs.RemoteFileError)
	if !ok {
		return dos.ErrorBadNumber
	}
	switch uint8(rf) {
	case fs.StatusOK:
		return 0
	case fs.StatusFail:
		return dos.ErrorFileNotObject
	case fs.StatusEOF:
		return dos.ErrorNoMoreEntries
	case fs.StatusUnkCmd:
		return dos.ErrorNotImplemented
	case fs.StatusPerm:
		return dos.ErrorWriteProtected
	case fs.StatusInvalid:
		return dos.ErrorObjectWrongType
	case fs.StatusNotEmpty:
		return dos.ErrorDirectoryNotEmpty
	case fs.StatusNoExist:
		return dos.ErrorObjectNotFound
	case fs.StatusExist:
		return dos.ErrorObjectExists
	case fs.StatusUnavail:
		return dos.ErrorDeviceNotMounted
	}
	return dos.ErrorBadNumber
}

// entryTypes maps a remote file type to the DOS directory entry type and
// the NFS-style attribute type.
func entryTypes(remote uint16) (entType int32, attrType uint32) {
	switch remote {
	case fs.TypeFile:
		return dos.STFile, dos.NFReg
	case fs.TypeDir:
		return dos.STUserDir, dos.NFDir
	case fs.TypeLink:
		return dos.STSoftLink, dos.NFLnk
	case fs.TypeHLink:
		return dos.STLinkFile, dos.NFLnk
	case fs.TypeFifo:
		return dos.STPipeFile, dos.NFFifo
	case fs.TypeSocket:
		return dos.STSocket, dos.NFSock
	case fs.TypeBDev:
		return dos.STBDevice, dos.NFBlk
	case fs.TypeCDev:
		return dos.STCDevice, dos.NFChr
	case fs.TypeWhtout:
		return dos.STWhiteout, dos.NFNon
	case fs.TypeVolume, fs.TypeVolDir:
		return dos.STRoot, dos.NFDir
	}
	return dos.STFile, dos.NFNon
}

// fillInfoBlock populates a FileInfoBlock (and optionally a FileAttr)
// from a directory entry.
func fillInfoBlock(fib *dos.FileInfoBlock, fattr *dos.FileAttr, dent *fs.DirEnt) {
	entType, attrType := entryTypes(dent.Type)

	fib.DiskKey = dent.Ino
	fib.DirEntryType = entType
	fib.EntryType = entType // must match DirEntryType
	dos.BStr(fib.FileName[:]).SetString(dent.Name)
	fib.Protection = dent.APerms
	fib.Size = uint32(dent.Size)
	fib.NumBlocks = dent.Blocks
	fib.Comment[0] = 0
	fib.Comment[1] = 0
	fib.OwnerUID = uint16(dent.OwnerUID)
	fib.OwnerGID = uint16(dent.GroupGID)
	fib.Date = dos.DateStampFromUnix(dent.Mtime)

	if fattr != nil {
		*fattr = dos.FileAttr{
			Type:      attrType,
			Mode:      dent.Mode,
			Nlink:     dent.Nlink,
			UID:       dent.OwnerUID,
			GID:       dent.GroupGID,
			Size:      uint32(dent.Size),
			BlockSize: dent.BlkSize,
			Rdev:      dent.Rdev,
			Blocks:    dent.Blocks,
			FileID:    dent.Ino,
			Atime:     dent.Atime,
			Mtime:     dent.Mtime,
			Ctime:     dent.Ctime,
		}
	}
}
