package buf

const (
	// ChunkSize is the default amount requested from the OS per stream read.
	ChunkSize = 8 * 1024
	// MaxPacketSize is the default datagram payload limit per OS call.
	MaxPacketSize = 512
)
