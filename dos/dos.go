// Package dos models the slice of the AmigaDOS environment the
// filesystem handler lives in: packet types and result codes, BCPL
// strings, date stamps, the global device list and message ports.
package dos

// Packet action types (dp_Type).
const (
	ActionNil           = 0
	ActionGetBlock      = 2
	ActionSetMap        = 4
	ActionDie           = 5
	ActionEvent         = 6
	ActionCurrentVolume = 7
	ActionLocateObject  = 8
	ActionRenameDisk    = 9
	ActionFreeLock      = 15
	ActionDeleteObject  = 16
	ActionRenameObject  = 17
	ActionMoreCache     = 18
	ActionCopyDir       = 19
	ActionWaitChar      = 20
	ActionSetProtect    = 21
	ActionCreateDir     = 22
	ActionExamineObject = 23
	ActionExamineNext   = 24
	ActionDiskInfo      = 25
	ActionInfo          = 26
	ActionFlush         = 27
	ActionSetComment    = 28
	ActionParent        = 29
	ActionTimer         = 30
	ActionInhibit       = 31
	ActionDiskType      = 32
	ActionDiskChange    = 33
	ActionSetDate       = 34
	ActionSameLock      = 40
	ActionRead          = 'R' // 82
	ActionWrite         = 'W' // 87
	ActionScreenMode    = 994
	ActionChangeSignal  = 995
	ActionReadReturn    = 1001
	ActionWriteReturn   = 1002
	ActionFindUpdate    = 1004
	ActionFindInput     = 1005
	ActionFindOutput    = 1006
	ActionEnd           = 1007
	ActionSeek          = 1008
	ActionFormat        = 1020
	ActionMakeLink      = 1021
	ActionSetFileSize   = 1022
	ActionWriteProtect  = 1023
	ActionReadLink      = 1024
	ActionFhFromLock    = 1026
	ActionIsFilesystem  = 1027
	ActionChangeMode    = 1028
	ActionCopyDirFh     = 1030
	ActionParentFh      = 1031
	ActionExamineAll    = 1033
	ActionExamineFh     = 1034
	ActionExamineAllEnd = 1035
	ActionSetOwner      = 1036
	ActionUndiskInfo    = 1409
	ActionLockRecord    = 2008
	ActionFreeRecord    = 2009
	ActionAddNotify     = 4097
	ActionRemoveNotify  = 4098
	ActionSerializeDisk = 4200
	ActionGetDiskFSSM   = 4201 // Ralph Babel packet
	ActionFreeDiskFSSM  = 4202 // Ralph Babel packet
	ActionExObject      = 50   // AS225
	ActionExNext        = 51   // AS225
)

// Boolean packet results.
const (
	DOSFalse int32 = 0
	DOSTrue  int32 = -1
)

// Secondary result error codes.
const (
	ErrorNoFreeStore        = 103
	ErrorTaskTableFull      = 105
	ErrorBadTemplate        = 114
	ErrorBadNumber          = 115
	ErrorRequiredArgMissing = 116
	ErrorFileNotObject      = 121
	ErrorActionNotKnown     = 209
	ErrorObjectInUse        = 202
	ErrorObjectExists       = 203
	ErrorDirNotFound        = 204
	ErrorObjectNotFound     = 205
	ErrorObjectWrongType    = 212
	ErrorDiskWriteProtected = 214
	ErrorRenameAcrossDev    = 215
	ErrorDirectoryNotEmpty  = 216
	ErrorDeviceNotMounted   = 218
	ErrorSeekError          = 219
	ErrorDiskFull           = 221
	ErrorDeleteProtected    = 222
	ErrorWriteProtected     = 223
	ErrorReadProtected      = 224
	ErrorNoMoreEntries      = 232
	ErrorIsSoftLink         = 233
	ErrorObjectLinked       = 234
	ErrorNotImplemented     = 236
)

// Lock access modes. AmigaDOS treats anything that isn't exclusive as
// shared.
const (
	SharedLock    = -2
	AccessRead    = -2
	ExclusiveLock = -1
	AccessWrite   = -1
)

// SameLock results.
const (
	LockDifferent  = -1
	LockSame       = 0
	LockSameVolume = 1
)

// MakeLink kinds.
const (
	LinkHard = 0
	LinkSoft = 1
)

// Seek modes.
const (
	OffsetBeginning = -1
	OffsetCurrent   = 0
	OffsetEnd       = 1
)

// Directory entry types (fib_DirEntryType). Positive values are
// directory-like, negative values are files. The negative block of
// special types follows the BFFS extension.
const (
	STRoot     = 1
	STUserDir  = 2
	STSoftLink = 3
	STLinkDir  = 4
	STFile     = -3
	STLinkFile = -4
	STPipeFile = -5
	STBDevice  = -10
	STCDevice  = -11
	STSocket   = -12
	STFifo     = -13
	STLifo     = -14
	STWhiteout = -15
)

// NFS-style file attribute types from RFC 1094 (and NetBSD's nfsproto.h
// for the later ones), used by the AS225 extended examine packets.
const (
	NFNon  = 0
	NFReg  = 1
	NFDir  = 2
	NFBlk  = 3
	NFChr  = 4
	NFLnk  = 5
	NFSock = 6
	NFFifo = 7
)

// Disk states and types for InfoData.
const (
	IDWriteProtected = 80
	IDValidating     = 81
	IDValidated      = 82

	IDFFSDisk = 0x444f5303 // 'DOS\3'
)

// DeviceList node types.
const (
	DLTDevice = 0
	DLTVolume = 2
)
