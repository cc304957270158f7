package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

type fakeLister struct {
	objects []minio.ObjectInfo
	opts    minio.ListObjectsOptions
}

func (f *fakeLister) ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	f.opts = opts
	ch := make(chan minio.ObjectInfo, len(f.objects))
	for _, obj := range f.objects {
		ch <- obj
	}
	close(ch)
	return ch
}

func TestS3ProberCountsModifiedObjects(t *testing.T) {
	last := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lister := &fakeLister{objects: []minio.ObjectInfo{
		{Key: "a", LastModified: last.Add(-time.Hour)},
		{Key: "b", LastModified: last.Add(time.Minute)},
		{Key: "c", LastModified: last.Add(time.Hour)},
	}}
	p := &S3Prober{lister: lister}

	src := testSource(models.SourceTypeS3)
	src.QueryParameters = map[string]any{"bucket": "events", "prefix": "2026/"}
	src.LastCheck = &last

	res, err := p.Probe(context.Background(), src)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if res.DataPoints != 3 || res.ChangesDetected != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if lister.opts.Prefix != "2026/" || !lister.opts.Recursive {
		t.Fatalf("unexpected list options: %+v", lister.opts)
	}

	src.LastCheck = nil
	res, _ = p.Probe(context.Background(), src)
	if res.ChangesDetected != 0 {
		t.Fatalf("first check reports no changes, got %d", res.ChangesDetected)
	}
}

func TestS3ProberListError(t *testing.T) {
	p := &S3Prober{lister: &fakeLister{objects: []minio.ObjectInfo{{Err: errors.New("access denied")}}}}
	src := testSource(models.SourceTypeS3)
	src.QueryParameters = map[string]any{"bucket": "events"}
	if _, err := p.Probe(context.Background(), src); err == nil {
		t.Fatalf("expected list error")
	}
}
