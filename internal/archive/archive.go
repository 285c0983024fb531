// Package archive keeps a copy of operations discarded by a queue clear in
// S3-compatible object storage. When no bucket is configured, the Noop
// archiver is used and nothing leaves the device.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/shiftq/internal/config"
	"github.com/hyperengineering/shiftq/internal/queue"
)

// Archiver stores discarded operations.
type Archiver interface {
	Archive(ctx context.Context, ops []queue.Operation) error
}

// Document is the archived object body.
type Document struct {
	ClearedAt  time.Time         `json:"clearedAt"`
	Count      int               `json:"count"`
	Operations []queue.Operation `json:"operations"`
}

// objectPutter is the minimal minio.Client surface S3Archiver uses.
type objectPutter interface {
	PutObject(ctx context.Context, bucket, objectName string, body []byte, contentType string) error
}

type minioPutter struct {
	client *minio.Client
}

func (m *minioPutter) PutObject(ctx context.Context, bucket, objectName string, body []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, objectName, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}

// S3Archiver writes one JSON object per clear.
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// Archive uploads ops as a single JSON document.
func (a *S3Archiver) Archive(ctx context.Context, ops []queue.Operation) error {
	now := a.now().UTC()
	doc := Document{ClearedAt: now, Count: len(ops), Operations: ops}
	if doc.Operations == nil {
		doc.Operations = []queue.Operation{}
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}

	key := objectKey(a.prefix, now)
	if err := a.client.PutObject(ctx, a.bucket, key, body, "application/json"); err != nil {
		return fmt.Errorf("upload archive to S3: %w", err)
	}
	return nil
}

// Noop discards archives.
type Noop struct{}

// Archive does nothing.
func (Noop) Archive(ctx context.Context, ops []queue.Operation) error {
	return nil
}

// New returns an S3Archiver, or Noop when cfg has no bucket.
func New(cfg config.ArchiveConfig) (Archiver, error) {
	if cfg.Bucket == "" {
		return Noop{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Archiver{
		client: &minioPutter{client: client},
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		now:    time.Now,
	}, nil
}

// objectKey sorts by clear time.
// Convention: {prefix}/{yyyy}/{mm}/{dd}/{ulid}.json
func objectKey(prefix string, at time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy())
	return path.Join(prefix, at.Format("2006/01/02"), id.String()+".json")
}
