// Package rombus drives the Kicksmash command channel across the Amiga
// ROM window. A command is synthesised entirely from the address lines of
// blind reads; the reply is streamed back through the ROM data bus by the
// peer's DMA engine.
//
// Callers on real hardware must enter the bus with interrupts, data cache
// and MMU translation disabled. That discipline belongs to the Bus
// implementation; this package only assumes reads are uninterrupted.
package rombus

// Well-known ROM window offsets. Reply polling and recovery read fixed
// offsets whose remote addresses the peer treats as harmless.
const (
	// PollOffset is read while waiting for and consuming a reply
	// (remote address 0x0555 or 0x0aaa depending on bus width).
	PollOffset = 0x1554

	// RecoveryOffset is read while waiting for the peer to release the
	// data bus (remote address 0x5555 or 0xaaaa).
	RecoveryOffset = 0x15554

	// RomIdle is the first longword of a Kickstart image (initial SSP
	// and a JMP opcode); seeing it at offset 0 means the real ROM is
	// driving the bus again.
	RomIdle = 0x11144ef9
)

// CmdShift is how far a command half-word is shifted to form the read
// address on a 32-bit Amiga.
const CmdShift = 2

// Bus models the ROM window. Read32 performs one blind 32-bit read:
// the offset's address lines carry outbound data to the peer, and the
// returned word carries whatever the peer (or the real ROM) is driving.
// Read16 is the half-width variant used when a reply leaves the CRC
// straddling a 32-bit boundary.
type Bus interface {
	Read32(off uint32) uint32
	Read16(off uint32) uint16
}

// Spinner delays for the given number of bus spin units. Implementations
// back pacing delays between command send and reply poll.
type Spinner func(units uint)
