// Package patch reads, writes and merges field-level patch files.
//
// A patch file records new values for documents of a sealed segment. Every
// updatable column (a plain field or a pack group) of a segment may carry
// several patch generations, named patch_<field>.<gen> or patchpack_<group>.<gen>.
//
// File layout (little-endian):
//
//	header (32 bytes):
//	  magic u32 | format u16 | flags u16 | id u32 | sub_fields u32
//	  version u64 | records u32 | max_value_len u32
//	body (optionally an lz4 frame or a zstd stream):
//	  (doc u32, [sub_field_bitmap u32 if packed], length u32, payload[length])*
//
// Records are written in strictly ascending doc order. A packed payload holds
// one (len u32, bytes) pair per set bitmap bit in ascending bit order.
//
// A Stream merges the generations of one column of one segment (the newest
// generation wins). A Merger merges the streams of all segments of a merge in
// global doc order, or splits them into one independent WorkItem per column.
package patch
