// Package s3 stores segment files in Amazon S3 through aws-sdk-go-v2.
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "tables", "prod/")
//	dir := fs.NewBlobDirectory(ctx, store, "orders")
//
// Reads are ranged GETs. Create streams into a multipart upload driven by the
// feature/s3/manager uploader; Put sends one request with a CRC32-C checksum.
// Rename is CopyObject followed by DeleteObject.
package s3
