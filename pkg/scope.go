package v1

import (
	"github.com/onepanelio/functionary/pkg/util"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
)

// Action is an operation a principal performs on a resource.
type Action string

const (
	ActionRead    Action = "read"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionExecute Action = "execute"
)

// Resources used in authorization checks.
const (
	ResourcePackage       = "package"
	ResourceFunction      = "function"
	ResourceTask          = "task"
	ResourceVariable      = "variable"
	ResourceWorkflow      = "workflow"
	ResourceScheduledTask = "scheduledtask"
	ResourceBuild         = "build"
)

// Scope identifies who is acting and in which environment. Every query made on behalf of a
// Scope is filtered by EnvironmentID.
type Scope struct {
	EnvironmentID string
	Principal     string
}

// SystemPrincipal is the creator recorded on work started by the platform itself.
const SystemPrincipal = "system"

// Validate returns an InvalidArgument error if the scope can not be used for a query.
func (s Scope) Validate() error {
	if s.EnvironmentID == "" {
		return util.NewUserError(codes.InvalidArgument, "Environment is required.")
	}
	if s.Principal == "" {
		return util.NewUserError(codes.InvalidArgument, "Principal is required.")
	}

	return nil
}

// Authorizer decides whether a principal may perform an action. Role management lives outside of this module.
type Authorizer interface {
	IsAuthorized(scope Scope, action Action, resource string) (bool, error)
}

// allowAll is used when no Authorizer is configured.
type allowAll struct{}

func (allowAll) IsAuthorized(Scope, Action, string) (bool, error) {
	return true, nil
}

// authorize validates the scope and asks the configured Authorizer about it.
func (c *Client) authorize(scope Scope, action Action, resource string) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	allowed, err := c.authorizer.IsAuthorized(scope, action, resource)
	if err != nil {
		log.WithFields(log.Fields{
			"EnvironmentID": scope.EnvironmentID,
			"Principal":     scope.Principal,
			"Action":        action,
			"Resource":      resource,
			"Error":         err.Error(),
		}).Error("Authorization check failed.")
		return util.NewUserError(codes.Internal, "Unable to check authorization.")
	}
	if !allowed {
		return util.NewUserErrorf(codes.PermissionDenied, "Not allowed to %v %v.", action, resource)
	}

	return nil
}
