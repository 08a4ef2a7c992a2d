package v1

import (
	"github.com/onepanelio/functionary/pkg/util"
	"google.golang.org/grpc/codes"
)

// chain is the step list of one workflow, keyed by id.
type chain struct {
	steps map[string]*WorkflowStep
	order []string
}

// newChain copies steps so plans never modify the loaded rows.
func newChain(steps []*WorkflowStep) *chain {
	c := &chain{
		steps: make(map[string]*WorkflowStep, len(steps)),
		order: make([]string, 0, len(steps)),
	}
	for _, step := range steps {
		copied := *step
		if step.NextID != nil {
			next := *step.NextID
			copied.NextID = &next
		}
		c.steps[step.ID] = &copied
		c.order = append(c.order, step.ID)
	}

	return c
}

func (c *chain) list() []*WorkflowStep {
	result := make([]*WorkflowStep, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.steps[id])
	}

	return result
}

// predecessor returns the step whose next is id.
func (c *chain) predecessor(id string) *WorkflowStep {
	for _, stepID := range c.order {
		step := c.steps[stepID]
		if step.NextID != nil && *step.NextID == id {
			return step
		}
	}

	return nil
}

// tail returns the step without a next, ignoring the step with id except.
func (c *chain) tail(except string) *WorkflowStep {
	for _, stepID := range c.order {
		step := c.steps[stepID]
		if step.ID != except && step.NextID == nil {
			return step
		}
	}

	return nil
}

func (c *chain) contains(id string) bool {
	_, ok := c.steps[id]
	return ok
}

// orderSteps returns steps in execution order. It fails unless the next links form a single chain
// with one head, no cycles, and no links leaving the workflow.
func orderSteps(steps []*WorkflowStep) ([]*WorkflowStep, error) {
	if len(steps) == 0 {
		return nil, nil
	}

	byID := make(map[string]*WorkflowStep, len(steps))
	for _, step := range steps {
		byID[step.ID] = step
	}

	hasPredecessor := make(map[string]bool, len(steps))
	for _, step := range steps {
		if step.NextID == nil {
			continue
		}
		if _, ok := byID[*step.NextID]; !ok {
			return nil, util.NewUserErrorf(codes.Internal, "Step %v links to a step outside of its workflow.", step.Name)
		}
		if hasPredecessor[*step.NextID] {
			return nil, util.NewUserErrorf(codes.Internal, "Step %v has more than one predecessor.", byID[*step.NextID].Name)
		}
		hasPredecessor[*step.NextID] = true
	}

	var head *WorkflowStep
	for _, step := range steps {
		if hasPredecessor[step.ID] {
			continue
		}
		if head != nil {
			return nil, util.NewUserError(codes.Internal, "Workflow has more than one first step.")
		}
		head = step
	}
	if head == nil {
		return nil, util.NewUserError(codes.Internal, "Workflow steps form a cycle.")
	}

	ordered := make([]*WorkflowStep, 0, len(steps))
	visited := make(map[string]bool, len(steps))
	for step := head; step != nil; {
		if visited[step.ID] {
			return nil, util.NewUserError(codes.Internal, "Workflow steps form a cycle.")
		}
		visited[step.ID] = true
		ordered = append(ordered, step)
		if step.NextID == nil {
			break
		}
		step = byID[*step.NextID]
	}
	if len(ordered) != len(steps) {
		return nil, util.NewUserError(codes.Internal, "Workflow steps form a cycle.")
	}

	return ordered, nil
}

// planAddStep inserts step before its NextID, or at the tail when NextID is nil.
func planAddStep(steps []*WorkflowStep, step *WorkflowStep) ([]*WorkflowStep, error) {
	c := newChain(steps)
	if step.NextID != nil {
		if !c.contains(*step.NextID) {
			return nil, util.NewUserError(codes.InvalidArgument, "Next step does not belong to this workflow.")
		}
		if predecessor := c.predecessor(*step.NextID); predecessor != nil {
			predecessor.NextID = &step.ID
		}
	} else if tail := c.tail(""); tail != nil {
		tail.NextID = &step.ID
	}

	added := *step
	c.steps[added.ID] = &added
	c.order = append(c.order, added.ID)

	return c.list(), nil
}

// planRemoveStep links the predecessor of the step to its next and drops the step.
func planRemoveStep(steps []*WorkflowStep, id string) ([]*WorkflowStep, error) {
	c := newChain(steps)
	if !c.contains(id) {
		return nil, util.NewUserError(codes.NotFound, "Workflow step not found.")
	}

	removed := c.steps[id]
	if predecessor := c.predecessor(id); predecessor != nil {
		predecessor.NextID = removed.NextID
	}

	delete(c.steps, id)
	for i, stepID := range c.order {
		if stepID == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}

	return c.list(), nil
}

// planMoveStep moves the step before newNext, or to the tail when newNext is nil.
func planMoveStep(steps []*WorkflowStep, id string, newNext *string) ([]*WorkflowStep, error) {
	c := newChain(steps)
	if !c.contains(id) {
		return nil, util.NewUserError(codes.NotFound, "Workflow step not found.")
	}
	if newNext != nil {
		if *newNext == id {
			return nil, util.NewUserError(codes.InvalidArgument, "A step can not be its own next step.")
		}
		if !c.contains(*newNext) {
			return nil, util.NewUserError(codes.InvalidArgument, "Next step does not belong to this workflow.")
		}
	}

	moved := c.steps[id]
	if moved.NextID == nil && newNext == nil || moved.NextID != nil && newNext != nil && *moved.NextID == *newNext {
		return c.list(), nil
	}

	if predecessor := c.predecessor(id); predecessor != nil {
		predecessor.NextID = moved.NextID
	}
	moved.NextID = nil

	if newNext != nil {
		if predecessor := c.predecessor(*newNext); predecessor != nil {
			predecessor.NextID = &moved.ID
		}
		next := *newNext
		moved.NextID = &next
	} else if tail := c.tail(id); tail != nil {
		tail.NextID = &moved.ID
	}

	return c.list(), nil
}

// changedSteps returns the steps of after whose next differs from before. Steps missing from before are skipped.
func changedSteps(before, after []*WorkflowStep) []*WorkflowStep {
	previous := make(map[string]*string, len(before))
	for _, step := range before {
		previous[step.ID] = step.NextID
	}

	var changed []*WorkflowStep
	for _, step := range after {
		old, ok := previous[step.ID]
		if !ok {
			continue
		}
		if !sameNext(old, step.NextID) {
			changed = append(changed, step)
		}
	}

	return changed
}

func sameNext(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return *a == *b
}
