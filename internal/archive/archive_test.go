package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"

	"lexdesk/internal/store"
)

type capturePutter struct {
	bucket string
	key    string
	body   []byte
	opts   minio.PutObjectOptions
	err    error
}

func (c *capturePutter) PutObject(_ context.Context, bucketName, objectName string, reader io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if c.err != nil {
		return minio.UploadInfo{}, c.err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	c.bucket, c.key, c.body, c.opts = bucketName, objectName, body, opts
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: int64(len(body))}, nil
}

func TestArchiveVersionUploadsJSON(t *testing.T) {
	putter := &capturePutter{}
	archive := &Store{client: putter, bucket: "lexdesk-archive"}

	err := archive.ArchiveVersion(context.Background(), store.VersionSnapshot{
		DocumentID:      "doc_1",
		VersionNumber:   7,
		ContentSnapshot: "Neni 1",
		CreatedBy:       "usr_1",
	})
	if err != nil {
		t.Fatalf("ArchiveVersion() error = %v", err)
	}
	if putter.bucket != "lexdesk-archive" || putter.key != "documents/doc_1/versions/000007.json" {
		t.Fatalf("unexpected target %s/%s", putter.bucket, putter.key)
	}
	if putter.opts.ContentType != "application/json" {
		t.Fatalf("content type = %q", putter.opts.ContentType)
	}

	var decoded record
	if err := json.Unmarshal(putter.body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.ContentSnapshot != "Neni 1" || decoded.VersionNumber != 7 || decoded.ArchivedAt.IsZero() {
		t.Fatalf("unexpected record: %+v", decoded)
	}
}

func TestArchiveVersionWrapsUploadError(t *testing.T) {
	boom := errors.New("bucket offline")
	archive := &Store{client: &capturePutter{err: boom}, bucket: "b"}
	err := archive.ArchiveVersion(context.Background(), store.VersionSnapshot{DocumentID: "d", VersionNumber: 1})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped upload error, got %v", err)
	}
}
