package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
)

// GCS stores uploads in a Cloud Storage bucket.
type GCS struct {
	bucket    string
	newWriter func(ctx context.Context, object string) io.WriteCloser
	now       func() time.Time
}

func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("filestore: gcs client: %w", err)
	}
	handle := client.Bucket(bucket)
	return &GCS{
		bucket: bucket,
		newWriter: func(ctx context.Context, object string) io.WriteCloser {
			return handle.Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
		},
		now: time.Now,
	}, nil
}

func (g *GCS) Save(ctx context.Context, originalName, contentType string, r io.Reader) (string, error) {
	now := g.now().UTC()
	object := fmt.Sprintf("uploads/%d/%d/%d/%s%s", now.Year(), now.Month(), now.Day(), uuid.NewString(), extension(originalName))

	w := g.newWriter(ctx, object)
	if sw, ok := w.(*storage.Writer); ok && contentType != "" {
		sw.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", g.wrap(object, err)
	}
	if err := w.Close(); err != nil {
		return "", g.wrap(object, err)
	}
	return "gs://" + g.bucket + "/" + object, nil
}

func (g *GCS) wrap(object string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return ErrExists
	}
	return fmt.Errorf("filestore: write gs://%s/%s: %w", g.bucket, object, err)
}
