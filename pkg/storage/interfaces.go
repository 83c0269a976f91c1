package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned when a key does not exist
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore stores uploaded files such as payment proofs
type ObjectStore interface {
	Put(ctx context.Context, key string, content io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// Config selects and configures an ObjectStore backend
type Config struct {
	Type string `yaml:"type"` // "filesystem" or "s3"

	FilesystemRoot string `yaml:"filesystem_root"`

	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Region       string `yaml:"s3_region"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
}

// DefaultConfig returns a filesystem store under /tmp
func DefaultConfig() Config {
	return Config{
		Type:           "filesystem",
		FilesystemRoot: "/tmp/tenancy/objects",
		S3Region:       "us-east-1",
	}
}

// New builds the ObjectStore selected by cfg.Type
func New(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch cfg.Type {
	case "", "filesystem":
		return NewFileSystemStore(cfg.FilesystemRoot)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// ProofKey returns a fresh object key for a payment proof. The original file
// extension is kept; the name is replaced with a random UUID.
func ProofKey(tenantID, paymentID int64, filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, "\\", "/"))))
	return fmt.Sprintf("payment-proofs/%d/%d/%s%s", tenantID, paymentID, uuid.NewString(), ext)
}

// validKey rejects keys that could escape the store root
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}
