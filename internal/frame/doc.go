// Package frame implements the checksummed container used by small segment
// metadata files (segment_info, deletionmap, reclaim_map).
//
// Layout (little-endian):
//
//	Magic         (4 bytes)
//	Version       (4 bytes)
//	Checksum      (4 bytes) - CRC32C of payload
//	PayloadLength (4 bytes)
//	Payload       (PayloadLength bytes)
//
// Payloads are built and parsed with [Buffer], which records the first error
// and turns every later call into a no-op, so encoders and decoders check the
// error once at the end.
package frame
