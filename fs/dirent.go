package fs

import (
	"encoding/binary"
	"fmt"
)

// DirEntFixedSize is the size of the fixed part of an encoded DirEnt,
// before the name and comment strings.
const DirEntFixedSize = 4 + 16*4

// MaxDirEntLen bounds the encoded entry length field. Anything larger is
// treated as stream corruption.
const MaxDirEntLen = 1024

// DirEnt is one directory entry as returned by a directory read. EntLen
// holds the number of bytes following the fixed header up to the next
// (16-bit aligned) entry.
type DirEnt struct {
	Type     uint16
	EntLen   uint16
	Size     uint64
	BlkSize  uint32
	Blocks   uint32
	Atime    uint32 // seconds since 1970
	Ctime    uint32
	Mtime    uint32
	APerms   uint32 // Amiga-style protection bits
	Ino      uint32
	OwnerUID uint32
	GroupGID uint32
	Mode     uint32 // Unix mode bits
	Nlink    uint32
	Rdev     uint32
	Name     string
	Comment  string
}

// Encode appends the wire form of the entry to b, setting EntLen to cover
// name, comment, both NUL terminators and the alignment pad.
func (d *DirEnt) Encode(b []byte) []byte {
	varLen := len(d.Name) + 1 + len(d.Comment) + 1
	varLen = (varLen + 1) &^ 1
	d.EntLen = uint16(varLen)

	var fixed [DirEntFixedSize]byte
	binary.BigEndian.PutUint16(fixed[0:], d.Type)
	binary.BigEndian.PutUint16(fixed[2:], d.EntLen)
	binary.BigEndian.PutUint32(fixed[4:], uint32(d.Size>>32))
	binary.BigEndian.PutUint32(fixed[8:], uint32(d.Size))
	binary.BigEndian.PutUint32(fixed[12:], d.BlkSize)
	binary.BigEndian.PutUint32(fixed[16:], d.Blocks)
	binary.BigEndian.PutUint32(fixed[20:], d.Atime)
	binary.BigEndian.PutUint32(fixed[24:], d.Ctime)
	binary.BigEndian.PutUint32(fixed[28:], d.Mtime)
	binary.BigEndian.PutUint32(fixed[32:], d.APerms)
	binary.BigEndian.PutUint32(fixed[36:], d.Ino)
	binary.BigEndian.PutUint32(fixed[40:], d.OwnerUID)
	binary.BigEndian.PutUint32(fixed[44:], d.GroupGID)
	binary.BigEndian.PutUint32(fixed[48:], d.Mode)
	binary.BigEndian.PutUint32(fixed[52:], d.Nlink)
	binary.BigEndian.PutUint32(fixed[56:], d.Rdev)
	// fixed[60:68] reserved

	b = append(b, fixed[:]...)
	b = append(b, d.Name...)
	b = append(b, 0)
	b = append(b, d.Comment...)
	b = append(b, 0)
	// The var region is name + NUL + comment + NUL; pad it to a 16-bit
	// boundary so the next entry starts aligned.
	if (len(d.Name)+len(d.Comment))%2 != 0 {
		b = append(b, 0)
	}
	return b
}

// DecodeDirEnt reads one entry from the start of b and returns it along
// with the number of bytes consumed. A corrupt entry length is an error.
func DecodeDirEnt(b []byte) (*DirEnt, int, error) {
	if len(b) < DirEntFixedSize {
		return nil, 0, fmt.Errorf("directory entry truncated: %d bytes", len(b))
	}
	d := &DirEnt{
		Type:     binary.BigEndian.Uint16(b[0:]),
		EntLen:   binary.BigEndian.Uint16(b[2:]),
		Size:     uint64(binary.BigEndian.Uint32(b[4:]))<<32 | uint64(binary.BigEndian.Uint32(b[8:])),
		BlkSize:  binary.BigEndian.Uint32(b[12:]),
		Blocks:   binary.BigEndian.Uint32(b[16:]),
		Atime:    binary.BigEndian.Uint32(b[20:]),
		Ctime:    binary.BigEndian.Uint32(b[24:]),
		Mtime:    binary.BigEndian.Uint32(b[28:]),
		APerms:   binary.BigEndian.Uint32(b[32:]),
		Ino:      binary.BigEndian.Uint32(b[36:]),
		OwnerUID: binary.BigEndian.Uint32(b[40:]),
		GroupGID: binary.BigEndian.Uint32(b[44:]),
		Mode:     binary.BigEndian.Uint32(b[48:]),
		Nlink:    binary.BigEndian.Uint32(b[52:]),
		Rdev:     binary.BigEndian.Uint32(b[56:]),
	}
	if d.EntLen > MaxDirEntLen {
		return nil, 0, fmt.Errorf("corrupt directory entry length %#x", d.EntLen)
	}
	end := DirEntFixedSize + int(d.EntLen)
	if end > len(b) {
		end = len(b)
	}
	rest := b[DirEntFixedSize:end]
	d.Name, rest = cstring(rest)
	d.Comment, _ = cstring(rest)
	return d, end, nil
}

// cstring splits a NUL-terminated string off the front of b.
func cstring(b []byte) (string, []byte) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:]
		}
	}
	return string(b), nil
}
