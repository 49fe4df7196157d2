package blob

import (
	"context"
	"fmt"

	"tutordesk/internal/infra/blob/fs"
	"tutordesk/internal/infra/blob/memory"
	"tutordesk/internal/infra/blob/s3"
)

// S3Config aliases the bucket settings of the S3 backend.
type S3Config = s3.Config

// Config selects and configures a backend.
//
//	Driver: fs|s3|memory (default fs)
//	FSRoot: directory root when Driver is fs (default ./blobdata)
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open returns the Store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", driver)
	}
}

// NewFilesystem stores objects under root.
func NewFilesystem(root string) (Store, error) {
	st, err := fs.New(root)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// NewMemory keeps objects in process memory.
func NewMemory() Store { return memory.New() }

// NewS3 connects to the bucket in cfg.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	st, err := s3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// NewMockS3ForTests returns an S3 store backed by an in-process fake bucket.
func NewMockS3ForTests() Store { return s3.NewMock() }
