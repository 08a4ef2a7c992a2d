package v1

import (
	"context"
	"io"
	"time"

	"github.com/onepanelio/functionary/pkg/broker"
	"github.com/onepanelio/functionary/pkg/worker"
)

// Publisher sends a message to the broker and waits for it to be confirmed.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msgType broker.MessageType, body interface{}) error
}

// FileStore stores file parameters. It is implemented by s3.Client.
type FileStore interface {
	EnsureBucket(bucket string) error
	PutFile(ctx context.Context, bucket, key string, reader io.Reader, size int64) error
	PresignedGetURL(bucket, key string, expiry time.Duration) (string, error)
}

// ImageBuilder builds and pushes package images. It is implemented by docker.Client.
type ImageBuilder interface {
	// BuildImage builds the tar stream buildContext into an image tagged tag and returns the build output.
	BuildImage(ctx context.Context, buildContext io.Reader, tag string) (string, error)
	// PushImage pushes tag to its registry and returns the push output.
	PushImage(ctx context.Context, tag string) (string, error)
}

// Dependencies are the collaborators of a Client. Nil members disable the features that need them,
// except Jobs which defaults to running jobs inline and Authorizer which defaults to allowing everything.
type Dependencies struct {
	Publisher  Publisher
	Jobs       worker.Submitter
	Files      FileStore
	Images     ImageBuilder
	Authorizer Authorizer
}

type Client struct {
	*DB
	config     SystemConfig
	publisher  Publisher
	jobs       worker.Submitter
	files      FileStore
	images     ImageBuilder
	authorizer Authorizer
}

func NewClient(db *DB, config SystemConfig, deps Dependencies) *Client {
	client := &Client{
		DB:         db,
		config:     config,
		publisher:  deps.Publisher,
		jobs:       deps.Jobs,
		files:      deps.Files,
		images:     deps.Images,
		authorizer: deps.Authorizer,
	}
	if client.jobs == nil {
		client.jobs = worker.Inline{}
	}
	if client.authorizer == nil {
		client.authorizer = allowAll{}
	}

	return client
}

// Config returns the configuration the client was created with.
func (c *Client) Config() SystemConfig {
	return c.config
}
