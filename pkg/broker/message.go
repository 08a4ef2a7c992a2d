package broker

const (
	// PublicExchange routes task packages to the public runner pool.
	PublicExchange = "runners.public"
	// PublicQueue is consumed by runners of the public pool.
	PublicQueue = "public"
	// TaskResultsQueue is consumed by the control plane.
	TaskResultsQueue = "tasking.results"

	// HeaderMessageType names the header that carries the message type.
	HeaderMessageType = "x-msg-type"

	ContentType     = "application/json"
	ContentEncoding = "utf-8"
)

// MessageType is the value of the x-msg-type header.
type MessageType string

const (
	TaskPackageMessage MessageType = "TASK_PACKAGE"
	TaskResultMessage  MessageType = "TASK_RESULT"
	PullImageMessage   MessageType = "PULL_IMAGE"
)

// Runner reported statuses. Any other value is the exit code of a failed function.
const (
	StatusSuccess       = 0
	StatusRunnerFailure = -1
)

// TaskPackage is the body of a TASK_PACKAGE message.
type TaskPackage struct {
	ID                 string                 `json:"id"`
	Package            string                 `json:"package"`
	Function           string                 `json:"function"`
	FunctionParameters map[string]interface{} `json:"function_parameters"`
	Variables          map[string]string      `json:"variables"`
}

// PullImage is the body of a PULL_IMAGE message. Runners pull the image ahead of its first task.
type PullImage struct {
	Package string `json:"package"`
}

// TaskResult is the body of a TASK_RESULT message.
type TaskResult struct {
	TaskID string `json:"task_id"`
	Status int    `json:"status"`
	Output string `json:"output"`
	Result string `json:"result"`
}

// Succeeded returns true if the runner reported success.
func (r *TaskResult) Succeeded() bool {
	return r.Status == StatusSuccess
}
