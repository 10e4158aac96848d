// Package archive uploads version snapshots that retention is about to
// delete to an S3-compatible bucket.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"lexdesk/internal/store"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Store struct {
	client objectPutter
	bucket string
}

type record struct {
	DocumentID              string         `json:"documentId"`
	VersionNumber           int            `json:"versionNumber"`
	ContentSnapshot         string         `json:"contentSnapshot"`
	ContentRenderedSnapshot string         `json:"contentRenderedSnapshot,omitempty"`
	MetadataSnapshot        map[string]any `json:"metadataSnapshot,omitempty"`
	ChangesSummary          string         `json:"changesSummary"`
	AddedContent            string         `json:"addedContent,omitempty"`
	RemovedContent          string         `json:"removedContent,omitempty"`
	CreatedBy               string         `json:"createdBy"`
	CreatedAt               time.Time      `json:"createdAt"`
	ArchivedAt              time.Time      `json:"archivedAt"`
}

// NewMinio connects to the endpoint and creates the bucket when missing.
func NewMinio(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func Key(documentID string, versionNumber int) string {
	return fmt.Sprintf("documents/%s/versions/%06d.json", documentID, versionNumber)
}

func (s *Store) ArchiveVersion(ctx context.Context, snapshot store.VersionSnapshot) error {
	payload, err := json.Marshal(record{
		DocumentID:              snapshot.DocumentID,
		VersionNumber:           snapshot.VersionNumber,
		ContentSnapshot:         snapshot.ContentSnapshot,
		ContentRenderedSnapshot: snapshot.ContentRenderedSnapshot,
		MetadataSnapshot:        snapshot.MetadataSnapshot,
		ChangesSummary:          snapshot.ChangesSummary,
		AddedContent:            snapshot.AddedContent,
		RemovedContent:          snapshot.RemovedContent,
		CreatedBy:               snapshot.CreatedBy,
		CreatedAt:               snapshot.CreatedAt,
		ArchivedAt:              time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key := Key(snapshot.DocumentID, snapshot.VersionNumber)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"document-id": snapshot.DocumentID,
			"version":     fmt.Sprint(snapshot.VersionNumber),
		},
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
