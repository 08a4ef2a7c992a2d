// Package runner executes task packages in containers and reports their results.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/onepanelio/functionary/pkg/broker"
	"github.com/onepanelio/functionary/pkg/docker"
	"github.com/onepanelio/functionary/pkg/metrics"
	"github.com/onepanelio/functionary/pkg/util/retry"
	"github.com/onepanelio/functionary/pkg/worker"
	log "github.com/sirupsen/logrus"
)

// OutputSeparator is printed by package entrypoints before the return value of the function.
const OutputSeparator = "==== Output From Command ====\n"

var (
	// PullBackoff is the retry policy of image pulls.
	PullBackoff = retry.DefaultBackoff
	// PublishBackoff is the retry policy of result publishing.
	PublishBackoff = retry.DefaultBackoff
)

// Docker is implemented by docker.Client.
type Docker interface {
	PullImage(ctx context.Context, imageRef string) error
	RunContainer(ctx context.Context, opts docker.RunOptions) (*docker.RunResult, error)
}

// Publisher is implemented by broker.Publisher.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msgType broker.MessageType, body interface{}) error
}

// Runner pulls, runs and reports one task package per job.
type Runner struct {
	docker    Docker
	publisher Publisher
	jobs      worker.Submitter
	timeout   time.Duration
}

// New creates a Runner. Containers running longer than timeout are removed, zero means no limit.
func New(docker Docker, publisher Publisher, jobs worker.Submitter, timeout time.Duration) *Runner {
	return &Runner{
		docker:    docker,
		publisher: publisher,
		jobs:      jobs,
		timeout:   timeout,
	}
}

// Register adds the runner handlers to l.
func (r *Runner) Register(l *broker.Listener) *broker.Listener {
	return l.Handle(broker.TaskPackageMessage, r.HandleTaskPackage).
		Handle(broker.PullImageMessage, r.HandlePullImage)
}

// HandleTaskPackage is the broker.Handler of TASK_PACKAGE messages.
func (r *Runner) HandleTaskPackage(ctx context.Context, body []byte) error {
	taskPackage := &broker.TaskPackage{}
	if err := json.Unmarshal(body, taskPackage); err != nil {
		return err
	}
	if taskPackage.ID == "" || taskPackage.Package == "" || taskPackage.Function == "" {
		log.WithField("TaskID", taskPackage.ID).Error("Dropping incomplete task package.")
		return nil
	}

	return r.jobs.Submit(ctx, worker.Job{
		Name: "run_task " + taskPackage.ID,
		Run: func(ctx context.Context) error {
			return r.Run(ctx, taskPackage)
		},
	})
}

// HandlePullImage is the broker.Handler of PULL_IMAGE messages.
func (r *Runner) HandlePullImage(ctx context.Context, body []byte) error {
	pull := &broker.PullImage{}
	if err := json.Unmarshal(body, pull); err != nil {
		return err
	}

	return r.jobs.Submit(ctx, worker.Job{
		Name: "pull_image " + pull.Package,
		Run: func(ctx context.Context) error {
			return r.pull(ctx, pull.Package)
		},
	})
}

// Run executes taskPackage and publishes its result.
func (r *Runner) Run(ctx context.Context, taskPackage *broker.TaskPackage) error {
	result := r.Execute(ctx, taskPackage)

	err := retry.OnError(ctx, PublishBackoff, retry.NotContextCancelError, func() error {
		return r.publisher.Publish(ctx, "", broker.TaskResultsQueue, broker.TaskResultMessage, result)
	})
	if err != nil {
		log.WithFields(log.Fields{
			"TaskID": taskPackage.ID,
			"Error":  err.Error(),
		}).Error("Unable to publish task result.")
		return err
	}

	return nil
}

func (r *Runner) pull(ctx context.Context, image string) error {
	return retry.OnError(ctx, PullBackoff, retry.NotContextCancelError, func() error {
		err := r.docker.PullImage(ctx, image)
		if err != nil {
			log.WithFields(log.Fields{
				"Image": image,
				"Error": err.Error(),
			}).Warn("Image pull failed.")
		}
		return err
	})
}

// Execute pulls the image of taskPackage and runs the function. Failures to pull or start
// the container are reported with broker.StatusRunnerFailure.
func (r *Runner) Execute(ctx context.Context, taskPackage *broker.TaskPackage) *broker.TaskResult {
	logger := log.WithFields(log.Fields{
		"TaskID":   taskPackage.ID,
		"Package":  taskPackage.Package,
		"Function": taskPackage.Function,
	})

	if err := r.pull(ctx, taskPackage.Package); err != nil {
		metrics.ContainerRuns.WithLabelValues("pull_failed").Inc()
		logger.WithField("Error", err.Error()).Error("Unable to pull image.")
		return failure(taskPackage.ID, fmt.Sprintf("Unable to pull image %v: %v", taskPackage.Package, err))
	}

	parameters, err := json.Marshal(taskPackage.FunctionParameters)
	if err != nil {
		return failure(taskPackage.ID, "Unable to encode parameters: "+err.Error())
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	logger.Info("Running task.")
	run, err := r.docker.RunContainer(runCtx, docker.RunOptions{
		Image: taskPackage.Package,
		Cmd:   []string{"--function", taskPackage.Function, "--parameters", string(parameters)},
		Env:   environment(taskPackage.Variables),
	})
	if err != nil {
		metrics.ContainerRuns.WithLabelValues("failed").Inc()
		logger.WithField("Error", err.Error()).Error("Unable to run container.")
		return failure(taskPackage.ID, "Unable to run container: "+err.Error())
	}

	outcome := "succeeded"
	if run.ExitCode != broker.StatusSuccess {
		outcome = "exited"
	}
	metrics.ContainerRuns.WithLabelValues(outcome).Inc()
	logger.WithField("ExitCode", run.ExitCode).Info("Task finished.")

	return &broker.TaskResult{
		TaskID: taskPackage.ID,
		Status: int(run.ExitCode),
		Output: run.Output,
		Result: ParseResult(run.Output),
	}
}

func failure(taskID, message string) *broker.TaskResult {
	return &broker.TaskResult{
		TaskID: taskID,
		Status: broker.StatusRunnerFailure,
		Output: message,
	}
}

// ParseResult returns everything printed after the OutputSeparator line, or "" if it is missing.
func ParseResult(output string) string {
	var index int
	if strings.HasPrefix(output, OutputSeparator) {
		index = 0
	} else if i := strings.Index(output, "\n"+OutputSeparator); i >= 0 {
		index = i + 1
	} else {
		return ""
	}

	return strings.TrimRight(output[index+len(OutputSeparator):], "\n")
}

// environment turns variables into sorted NAME=value pairs.
func environment(variables map[string]string) []string {
	env := make([]string, 0, len(variables))
	for name, value := range variables {
		env = append(env, name+"="+value)
	}
	sort.Strings(env)

	return env
}
