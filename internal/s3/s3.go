package s3

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Client wraps MinIO for snapshot storage. Snapshots are evidence
// images keyed by the detection record id, so a violation row can
// always resolve its image.
type Client struct {
	client *minio.Client
	bucket string
}

func NewMinioClient(endpoint, accessKey, secretKey, bucket string) (*Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Client{client: client, bucket: bucket}, nil
}

// SnapshotKey builds the object path for a record's evidence image.
func SnapshotKey(cameraID, recordID string) string {
	return fmt.Sprintf("%s/%s.jpg", cameraID, recordID)
}

// SaveSnapshot uploads one encoded frame under the given key.
// Re-uploading the same key overwrites identical content, so retried
// writes stay idempotent.
func (c *Client) SaveSnapshot(ctx context.Context, key string, frame []byte) error {
	_, err := c.client.PutObject(
		ctx,
		c.bucket,
		key,
		bytes.NewReader(frame),
		int64(len(frame)),
		minio.PutObjectOptions{
			ContentType: "image/jpeg",
		},
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot to S3: %w", err)
	}

	return nil
}

// GetSnapshot reads one snapshot back by key.
func (c *Client) GetSnapshot(ctx context.Context, key string) ([]byte, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	defer obj.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	return buf.Bytes(), nil
}
