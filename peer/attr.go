package peer

import (
	"os"

	"github.com/kicksmash/smashfs/fs"
)

// apermsFromMode derives Amiga protection bits from a Unix mode. Owner
// bits are inverted (set means denied); group and other bits are not.
func apermsFromMode(mode os.FileMode) uint32 {
	perm := mode.Perm()
	var aperms uint32
	if perm&0o400 == 0 {
		aperms |= fs.APermRead
	}
	if perm&0o200 == 0 {
		aperms |= fs.APermWrite | fs.APermDelete
	}
	if perm&0o100 == 0 {
		aperms |= fs.APermExecute
	}
	if perm&0o040 != 0 {
		aperms |= fs.APermGrpRead
	}
	if perm&0o020 != 0 {
		aperms |= fs.APermGrpWrite | fs.APermGrpDelete
	}
	if perm&0o010 != 0 {
		aperms |= fs.APermGrpExecute
	}
	if perm&0o004 != 0 {
		aperms |= fs.APermOtrRead
	}
	if perm&0o002 != 0 {
		aperms |= fs.APermOtrWrite | fs.APermOtrDelete
	}
	if perm&0o001 != 0 {
		aperms |= fs.APermOtrExecute
	}
	return aperms
}

// modeFromAperms is the inverse mapping. Zero aperms (the common case
// for creates which don't care) comes out as rw-r--r--.
func modeFromAperms(aperms uint32) os.FileMode {
	if aperms == 0 {
		return 0o644
	}
	var perm os.FileMode
	if aperms&fs.APermRead == 0 {
		perm |= 0o400
	}
	if aperms&fs.APermWrite == 0 {
		perm |= 0o200
	}
	if aperms&fs.APermExecute == 0 {
		perm |= 0o100
	}
	if aperms&fs.APermGrpRead != 0 {
		perm |= 0o040
	}
	if aperms&fs.APermGrpWrite != 0 {
		perm |= 0o020
	}
	if aperms&fs.APermGrpExecute != 0 {
		perm |= 0o010
	}
	if aperms&fs.APermOtrRead != 0 {
		perm |= 0o004
	}
	if aperms&fs.APermOtrWrite != 0 {
		perm |= 0o002
	}
	if aperms&fs.APermOtrExecute != 0 {
		perm |= 0o001
	}
	return perm
}
