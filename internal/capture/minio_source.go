package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOpener opens replay sources backed by a MinIO bucket of frame
// objects. The video source locator is an s3-style URL:
// s3://bucket/folder. Used for recorded footage and testing against
// known sequences; live RTSP ingestion sits behind the same Source
// contract in an external capture service.
type MinioOpener struct {
	client *minio.Client
	loop   bool
}

func NewMinioOpener(endpoint, accessKey, secretKey string, loop bool) (*MinioOpener, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinioOpener{client: client, loop: loop}, nil
}

func (o *MinioOpener) Open(ctx context.Context, cameraID, videoSource string) (Source, error) {
	bucket, folder, err := parseSourceLocator(videoSource)
	if err != nil {
		return nil, err
	}

	keys, err := o.listFrameKeys(ctx, bucket, folder)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no frames under %s/%s", bucket, folder)
	}

	return &minioSource{
		client: o.client,
		bucket: bucket,
		keys:   keys,
		loop:   o.loop,
	}, nil
}

// parseSourceLocator splits an s3://bucket/folder or bucket/folder
// locator into its bucket and prefix parts.
func parseSourceLocator(videoSource string) (bucket, folder string, err error) {
	u, err := url.Parse(videoSource)
	if err != nil {
		return "", "", fmt.Errorf("parse video source: %w", err)
	}

	bucket = u.Host
	folder = strings.TrimPrefix(u.Path, "/")
	if bucket == "" {
		// Path-style locator: first segment is the bucket.
		parts := strings.SplitN(folder, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("video source %q has no bucket/folder", videoSource)
		}
		bucket, folder = parts[0], parts[1]
	}
	return bucket, folder, nil
}

func (o *MinioOpener) listFrameKeys(ctx context.Context, bucket, folder string) ([]string, error) {
	objectCh := o.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    folder,
		Recursive: true,
	})

	var keys []string
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("list frames: %w", object.Err)
		}
		if strings.HasSuffix(object.Key, "/") {
			continue
		}
		keys = append(keys, object.Key)
	}

	// Object listing order is lexical already, but make frame order explicit.
	sort.Strings(keys)
	return keys, nil
}

// minioSource streams bucket objects one frame per Next call, lazily:
// frames are fetched on demand, never preloaded whole.
type minioSource struct {
	client *minio.Client
	bucket string
	keys   []string
	next   int
	loop   bool
}

func (s *minioSource) Next(ctx context.Context) (Frame, error) {
	if s.next >= len(s.keys) {
		if !s.loop {
			return Frame{}, ErrSourceExhausted
		}
		s.next = 0
	}

	key := s.keys[s.next]
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Frame{}, fmt.Errorf("get frame %s: %w", key, err)
	}
	defer obj.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, obj); err != nil {
		return Frame{}, fmt.Errorf("read frame %s: %w", key, err)
	}

	s.next++
	return Frame{Data: buf.Bytes()}, nil
}

func (s *minioSource) Close() error {
	return nil
}
