package metadb

import "encoding/binary"

// Bucket names for bbolt storage.
var (
	// Archive registry: key -> ArchiveInfo JSON
	bucketArchives = []byte("archives")

	// Per-archive record storage - nested structure: records -> key -> {log, names}
	bucketRecords = []byte("records")

	// Nested bucket names inside each archive's records bucket
	bucketLog   = []byte("log")   // 8-byte seq -> RecordEntry JSON
	bucketNames = []byte("names") // name -> 8-byte seq of the newest version
)

// encodeSeq converts a sequence number to a fixed-width big-endian key.
// This keeps the log bucket ordered by append order.
func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

// decodeSeq converts a big-endian key back to a sequence number.
func decodeSeq(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b[:8])
}
