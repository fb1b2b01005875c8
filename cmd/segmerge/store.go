package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hupe1980/segmerge"
	minioblob "github.com/hupe1980/segmerge/blobstore/minio"
	s3blob "github.com/hupe1980/segmerge/blobstore/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/urfave/cli/v3"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "schema",
			Aliases:  []string{"s"},
			Usage:    "YAML schema file of the table",
			Sources:  cli.EnvVars("SEGMERGE_SCHEMA"),
			Required: true,
		},
		&cli.StringFlag{
			Name:    "root",
			Aliases: []string{"r"},
			Usage:   "table directory, or key prefix for blob stores",
			Value:   ".",
			Sources: cli.EnvVars("SEGMERGE_ROOT"),
		},
		&cli.StringFlag{
			Name:    "store",
			Usage:   "storage backend: local, minio or s3",
			Value:   "local",
			Sources: cli.EnvVars("SEGMERGE_STORE"),
		},
		&cli.StringFlag{
			Name:    "bucket",
			Usage:   "bucket of the minio and s3 stores",
			Sources: cli.EnvVars("SEGMERGE_BUCKET"),
		},
		&cli.StringFlag{
			Name:    "endpoint",
			Usage:   "minio endpoint (host:port)",
			Value:   "localhost:9000",
			Sources: cli.EnvVars("SEGMERGE_ENDPOINT"),
		},
		&cli.StringFlag{
			Name:    "access-key",
			Usage:   "minio access key",
			Sources: cli.EnvVars("SEGMERGE_ACCESS_KEY"),
		},
		&cli.StringFlag{
			Name:    "secret-key",
			Usage:   "minio secret key",
			Sources: cli.EnvVars("SEGMERGE_SECRET_KEY"),
		},
		&cli.BoolFlag{
			Name:  "secure",
			Usage: "use TLS for minio",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
			Value: "warn",
		},
		&cli.BoolFlag{
			Name:  "log-json",
			Usage: "log as JSON",
		},
		&cli.Int64Flag{
			Name:  "memory-limit",
			Usage: "bytes reserved by concurrent patch work items (0 = unlimited)",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "patch work items running at once",
		},
		&cli.Int64Flag{
			Name:  "io-limit",
			Usage: "merge output throttle in bytes per second (0 = unlimited)",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "work items scheduled in parallel per merge",
		},
		&cli.StringFlag{
			Name:  "patch-compression",
			Usage: "compression of new patch files: none, lz4 or zstd",
		},
	}
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

func tableOptions(cmd *cli.Command) ([]segmerge.Option, error) {
	level, err := parseLevel(cmd.String("log-level"))
	if err != nil {
		return nil, err
	}
	logger := segmerge.NewTextLogger(level)
	if cmd.Bool("log-json") {
		logger = segmerge.NewJSONLogger(level)
	}
	opts := []segmerge.Option{
		segmerge.WithLogger(logger),
		segmerge.WithMemoryLimit(cmd.Int64("memory-limit")),
		segmerge.WithBackgroundWorkers(cmd.Int("workers")),
		segmerge.WithIOLimit(cmd.Int64("io-limit")),
		segmerge.WithConcurrency(cmd.Int("concurrency")),
	}
	if pc := cmd.String("patch-compression"); pc != "" {
		opts = append(opts, segmerge.WithPatchCompression(pc))
	}
	return opts, nil
}

// openTable opens the table selected by the global flags.
func openTable(ctx context.Context, cmd *cli.Command) (*segmerge.Table, error) {
	cmd = cmd.Root()
	s, err := segmerge.LoadSchemaFile(cmd.String("schema"))
	if err != nil {
		return nil, err
	}
	opts, err := tableOptions(cmd)
	if err != nil {
		return nil, err
	}

	root := cmd.String("root")
	switch strings.ToLower(cmd.String("store")) {
	case "local", "":
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, err
		}
		return segmerge.Open(root, s, opts...)
	case "minio":
		bucket, err := requireBucket(cmd)
		if err != nil {
			return nil, err
		}
		client, err := minio.New(cmd.String("endpoint"), &minio.Options{
			Creds:  credentials.NewStaticV4(cmd.String("access-key"), cmd.String("secret-key"), ""),
			Secure: cmd.Bool("secure"),
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return segmerge.OpenBlob(ctx, minioblob.NewStore(client, bucket, ""), root, s, opts...)
	case "s3":
		bucket, err := requireBucket(cmd)
		if err != nil {
			return nil, err
		}
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		store := s3blob.NewStore(awss3.NewFromConfig(cfg), bucket, "")
		return segmerge.OpenBlob(ctx, store, root, s, opts...)
	default:
		return nil, fmt.Errorf("unknown store %q", cmd.String("store"))
	}
}

func requireBucket(cmd *cli.Command) (string, error) {
	b := cmd.String("bucket")
	if b == "" {
		return "", fmt.Errorf("--bucket is required for the %s store", cmd.String("store"))
	}
	return b, nil
}
