// Package compress wraps the lz4 and zstd codecs used for segment files.
//
// Patch file bodies are compressed as streams (an lz4 frame or a zstd stream)
// so records can be decoded incrementally. Small payloads such as the reclaim
// map are compressed in one shot with EncodeAll/DecodeAll. zstd encoders and
// decoders are pooled.
package compress
