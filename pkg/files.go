package v1

import (
	"context"
	"path"
	"strings"

	"github.com/onepanelio/functionary/pkg/schema"
	"github.com/onepanelio/functionary/pkg/util"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
)

// fileKey is the object key of an uploaded file parameter.
func fileKey(environmentID, taskID, parameter, filename string) string {
	return path.Join(environmentID, taskID, parameter, path.Base(filename))
}

// isFileURL returns true if a file parameter value already points somewhere outside the object store.
func isFileURL(value string) bool {
	return strings.Contains(value, "://")
}

// uploadFiles stores files for the task and sets the object key of each one in parameters.
func (c *Client) uploadFiles(ctx context.Context, environmentID, taskID string, files map[string]File, parameters map[string]interface{}) error {
	if len(files) == 0 {
		return nil
	}
	if c.files == nil {
		return util.NewUserError(codes.FailedPrecondition, "File parameters are not supported without an object store.")
	}

	bucket := c.config.FileBucket()
	if err := c.files.EnsureBucket(bucket); err != nil {
		log.WithFields(log.Fields{
			"EnvironmentID": environmentID,
			"Bucket":        bucket,
			"Error":         err.Error(),
		}).Error("Unable to reach the object store.")
		return util.NewUserErrorWithCause(codes.Unavailable, util.ErrS3Connection, "Unable to connect to the object store.")
	}

	for name, file := range files {
		key := fileKey(environmentID, taskID, name, file.Name)
		if err := c.files.PutFile(ctx, bucket, key, file.Content, file.Size); err != nil {
			log.WithFields(log.Fields{
				"EnvironmentID": environmentID,
				"TaskID":        taskID,
				"Parameter":     name,
				"Key":           key,
				"Error":         err.Error(),
			}).Error("Unable to upload file parameter.")
			return util.NewUserErrorWithCause(codes.Unavailable, util.ErrS3FileUpload, "Unable to upload file "+file.Name+".")
		}
		parameters[name] = key
	}

	return nil
}

// presignFileParameters returns a copy of parameters where the object keys of file parameters
// are replaced by presigned URLs. The stored parameters are not changed.
func (c *Client) presignFileParameters(parameters map[string]interface{}, declared []*Parameter) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(parameters))
	for k, v := range parameters {
		result[k] = v
	}

	for _, p := range declared {
		if p.Type != schema.File {
			continue
		}
		key, ok := result[p.Name].(string)
		if !ok || key == "" || isFileURL(key) {
			continue
		}
		if c.files == nil {
			return nil, util.NewUserError(codes.FailedPrecondition, "File parameters are not supported without an object store.")
		}

		url, err := c.files.PresignedGetURL(c.config.FileBucket(), key, c.config.PresignedURLExpiry())
		if err != nil {
			return nil, util.NewUserErrorWithCause(codes.Unavailable, util.ErrS3Connection, "Unable to presign file "+key+".")
		}
		result[p.Name] = url
	}

	return result, nil
}

// GetFileParameterURL returns a presigned URL for the file given as the parameter named parameter of a task.
func (c *Client) GetFileParameterURL(scope Scope, taskID, parameter string) (string, error) {
	if err := c.authorize(scope, ActionRead, ResourceTask); err != nil {
		return "", err
	}

	task, err := getTask(c.DB, scope.EnvironmentID, taskID)
	if err != nil {
		return "", err
	}

	key, ok := task.Parameters[parameter].(string)
	if !ok || key == "" {
		return "", util.NewUserErrorf(codes.NotFound, "Task has no file parameter %v.", parameter)
	}
	if isFileURL(key) {
		return key, nil
	}
	if c.files == nil {
		return "", util.NewUserError(codes.FailedPrecondition, "File parameters are not supported without an object store.")
	}

	return c.files.PresignedGetURL(c.config.FileBucket(), key, c.config.PresignedURLExpiry())
}
