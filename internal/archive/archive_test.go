package archive

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/shiftq/internal/config"
	"github.com/hyperengineering/shiftq/internal/queue"
)

type putCall struct {
	bucket      string
	key         string
	body        []byte
	contentType string
}

type mockPutter struct {
	mu    sync.Mutex
	calls []putCall
	err   error
}

func (m *mockPutter) PutObject(ctx context.Context, bucket, objectName string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, putCall{bucket: bucket, key: objectName, body: body, contentType: contentType})
	return m.err
}

func mustOp(t *testing.T, a queue.Action) queue.Operation {
	t.Helper()
	op, err := queue.New(a)
	if err != nil {
		t.Fatalf("queue.New() error = %v", err)
	}
	return op
}

func TestS3Archiver_UploadsDocument(t *testing.T) {
	at := time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC)
	m := &mockPutter{}
	a := &S3Archiver{client: m, bucket: "cleared", prefix: "device-1", now: func() time.Time { return at }}

	ops := []queue.Operation{
		mustOp(t, queue.ShiftStart{StartedAt: 1, LocalID: "sh_1"}),
		mustOp(t, queue.Incident{IncidentType: "x"}),
	}
	if err := a.Archive(context.Background(), ops); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	if len(m.calls) != 1 {
		t.Fatalf("PutObject calls = %d, want 1", len(m.calls))
	}
	call := m.calls[0]
	if call.bucket != "cleared" {
		t.Errorf("bucket = %q, want %q", call.bucket, "cleared")
	}
	if !strings.HasPrefix(call.key, "device-1/2024/06/02/") || !strings.HasSuffix(call.key, ".json") {
		t.Errorf("key = %q, want device-1/2024/06/02/<ulid>.json", call.key)
	}
	if call.contentType != "application/json" {
		t.Errorf("contentType = %q", call.contentType)
	}

	var doc struct {
		ClearedAt  time.Time         `json:"clearedAt"`
		Count      int               `json:"count"`
		Operations []json.RawMessage `json:"operations"`
	}
	if err := json.Unmarshal(call.body, &doc); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if doc.Count != 2 || len(doc.Operations) != 2 {
		t.Errorf("count = %d, operations = %d, want 2", doc.Count, len(doc.Operations))
	}
	if !doc.ClearedAt.Equal(at) {
		t.Errorf("clearedAt = %v, want %v", doc.ClearedAt, at)
	}
}

func TestS3Archiver_PropagatesError(t *testing.T) {
	sentinel := errors.New("access denied")
	a := &S3Archiver{client: &mockPutter{err: sentinel}, bucket: "b", now: time.Now}

	err := a.Archive(context.Background(), nil)
	if !errors.Is(err, sentinel) {
		t.Errorf("Archive() error = %v, want wrapped %v", err, sentinel)
	}
}

func TestObjectKey_SortsByTime(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	k1 := objectKey("p", at)
	k2 := objectKey("p", at)
	if k1 == k2 {
		t.Fatalf("keys collide: %q", k1)
	}
	if k1 > k2 {
		t.Errorf("keys within one millisecond should sort in creation order: %q > %q", k1, k2)
	}

	name := strings.TrimSuffix(k1[strings.LastIndex(k1, "/")+1:], ".json")
	id, err := ulid.ParseStrict(name)
	if err != nil {
		t.Fatalf("key does not end in a ULID: %v", err)
	}
	if ulid.Time(id.Time()).UnixMilli() != at.UnixMilli() {
		t.Errorf("ULID time = %v, want %v", ulid.Time(id.Time()), at)
	}
}

func TestNoop_Archive(t *testing.T) {
	if err := (Noop{}).Archive(context.Background(), nil); err != nil {
		t.Errorf("Noop.Archive() error = %v", err)
	}
}

func TestNew_EmptyBucketReturnsNoop(t *testing.T) {
	a, err := New(config.ArchiveConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := a.(Noop); !ok {
		t.Errorf("expected Noop, got %T", a)
	}
}

func TestNew_WithBucketReturnsS3Archiver(t *testing.T) {
	useSSL := false
	a, err := New(config.ArchiveConfig{
		Bucket:    "cleared",
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		UseSSL:    &useSSL,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Prefix:    "cleared",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s3, ok := a.(*S3Archiver)
	if !ok {
		t.Fatalf("expected *S3Archiver, got %T", a)
	}
	if s3.bucket != "cleared" || s3.prefix != "cleared" {
		t.Errorf("S3Archiver = %+v", s3)
	}
}

func TestNew_InvalidEndpoint(t *testing.T) {
	_, err := New(config.ArchiveConfig{Bucket: "b", Endpoint: ""})
	if err == nil {
		t.Error("New() should fail for an invalid endpoint")
	}
}
