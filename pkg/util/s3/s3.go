package s3

import (
	"context"
	"io"
	"net/url"
	"time"

	minio "github.com/minio/minio-go/v6"
)

// Client wraps the minio client for the file parameter buckets.
type Client struct {
	*minio.Client
	region string
}

type Config struct {
	AccessKey string
	SecretKey string
	Endpoint  string
	Region    string
	InSecure  bool
}

func NewClient(config Config) (s3Client *Client, err error) {
	var minioClient *minio.Client
	if config.Region != "" {
		minioClient, err = minio.NewWithRegion(config.Endpoint, config.AccessKey, config.SecretKey, !config.InSecure, config.Region)
	} else {
		minioClient, err = minio.New(config.Endpoint, config.AccessKey, config.SecretKey, !config.InSecure)
	}
	if err != nil {
		return
	}
	return &Client{Client: minioClient, region: config.Region}, nil
}

// EnsureBucket creates bucket if it does not exist yet.
func (c *Client) EnsureBucket(bucket string) error {
	exists, err := c.BucketExists(bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	return c.MakeBucket(bucket, c.region)
}

// PutFile uploads size bytes from reader to bucket under key.
func (c *Client) PutFile(ctx context.Context, bucket, key string, reader io.Reader, size int64) error {
	_, err := c.PutObjectWithContext(ctx, bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})

	return err
}

// PresignedGetURL returns a URL that allows a GET of bucket/key until expiry elapses.
func (c *Client) PresignedGetURL(bucket, key string, expiry time.Duration) (string, error) {
	u, err := c.PresignedGetObject(bucket, key, expiry, url.Values{})
	if err != nil {
		return "", err
	}

	return u.String(), nil
}
