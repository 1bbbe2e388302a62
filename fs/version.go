package fs

// Version of the smashfs module.
const Version = "v0.9.0"
