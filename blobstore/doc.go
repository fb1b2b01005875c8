// Package blobstore is the object layer beneath fs.BlobDirectory.
//
// A BlobStore holds every file of a table (column files, patch files, pk
// tables, deletion maps and reclaim maps) under slash-separated names.
// Implementations are safe for concurrent use.
//
//   - LocalStore maps blobs to files below a root and serves reads from mmap
//   - MemoryStore keeps blobs in a map, for tests and throwaway tables
//   - minio.Store and s3.Store keep blobs as objects of a bucket
//
// Blobs created with Create become visible on Close. Object stores have no
// atomic rename, so Rename there copies and then deletes the source. Merged
// segments are still published safely because readers only list published
// segment directories.
package blobstore
