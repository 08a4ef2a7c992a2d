package worker

import (
	"context"

	"github.com/onepanelio/functionary/pkg/util/retry"
	log "github.com/sirupsen/logrus"
)

// Inline runs each submitted job in the calling goroutine before Submit returns.
// It is used by one-shot commands that have no pool running.
type Inline struct{}

func (Inline) Submit(ctx context.Context, job Job) error {
	retryable := job.Retryable
	if retryable == nil {
		retryable = retry.AlwaysError
	}

	err := retry.OnError(ctx, job.Backoff, retryable, func() error {
		return job.Run(ctx)
	})
	if err != nil {
		log.WithFields(log.Fields{
			"Job":   job.Name,
			"Error": err.Error(),
		}).Error("Job failed.")
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
	}

	return nil
}
