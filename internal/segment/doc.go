// Package segment defines the on-disk layout of a segment directory.
//
// A segment is an immutable directory named "segment_<id>" containing:
//
//   - segment_info: checksummed binary descriptor (doc counts, versions)
//   - format_options: codec-encoded encoding choices (patch compression, pk width)
//   - attr_<field> / pack_<group>: attribute columns
//   - patch_<field>.<gen> / patchpack_<group>.<gen>: patch generations
//   - deletionmap: deleted local doc ids
//   - pk: sealed primary-key hash table
//   - reclaim_map: old-to-new id mapping, written into merged segments
//
// Patch generations are numbered; a higher generation was written later and
// wins over lower generations for the same document.
package segment
