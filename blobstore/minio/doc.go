// Package minio stores segment files in MinIO or any other S3-compatible
// server through the MinIO client.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	})
//	store := minioblob.NewStore(client, "tables", "prod/")
//	dir := fs.NewBlobDirectory(ctx, store, "orders")
//
// Blobs are uploaded in one PUT when they are closed and carry their CRC32-C
// in the Segmerge-Crc32c user metadata entry. Rename is a server-side copy
// followed by a delete of the source.
package minio
