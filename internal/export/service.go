package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archiver stores generated PDFs for later retrieval.
type Archiver interface {
	Archive(ctx context.Context, objectName string, data []byte, contentType string) error
}

// Service renders documents to PDF and optionally archives the output.
type Service struct {
	render   func(html, filename string) (*Result, error)
	archiver Archiver
}

// NewService creates a new export service. archiver may be nil, in which
// case generated PDFs are only streamed back to the caller.
func NewService(archiver Archiver) *Service {
	return &Service{
		render:   exportPDF,
		archiver: archiver,
	}
}

// ExportPDF renders the supplied HTML to a PDF. The HTML comes from the
// editor client and is printed as-is. Archiving is best-effort: a storage
// failure never fails the export itself.
func (s *Service) ExportPDF(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.HTML) == "" {
		return nil, ErrContentUnavailable
	}

	name := req.Filename
	if name == "" {
		name = req.Title
	}

	result, err := s.render(req.HTML, name)
	if err != nil {
		return nil, err
	}

	if s.archiver != nil {
		objectName := fmt.Sprintf("%s/%s", time.Now().UTC().Format("2006-01-02"), result.Filename)
		// Archive failures are swallowed; the caller still gets the PDF.
		_ = s.archiver.Archive(ctx, objectName, result.Data, result.MimeType)
	}

	return result, nil
}

// MinioArchiver archives exported PDFs in an S3-compatible bucket.
type MinioArchiver struct {
	client *minio.Client
	bucket string
}

// NewMinioArchiver connects to the given endpoint and ensures the bucket
// exists.
func NewMinioArchiver(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioArchiver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object storage: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &MinioArchiver{client: client, bucket: bucket}, nil
}

func (a *MinioArchiver) Archive(ctx context.Context, objectName string, data []byte, contentType string) error {
	_, err := a.client.PutObject(ctx, a.bucket, objectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("archive %s: %w", objectName, err)
	}
	return nil
}
