package v1

import (
	"testing"

	"github.com/onepanelio/functionary/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

// linkedSteps returns steps named by ids linked in the given order.
func linkedSteps(ids ...string) []*WorkflowStep {
	steps := make([]*WorkflowStep, 0, len(ids))
	for i, id := range ids {
		step := &WorkflowStep{ID: id, Name: id, WorkflowID: "wf"}
		if i+1 < len(ids) {
			next := ids[i+1]
			step.NextID = &next
		}
		steps = append(steps, step)
	}

	return steps
}

// stepOrder returns the ids of steps in execution order.
func stepOrder(t *testing.T, steps []*WorkflowStep) []string {
	ordered, err := orderSteps(steps)
	require.NoError(t, err)

	ids := make([]string, 0, len(ordered))
	for _, step := range ordered {
		ids = append(ids, step.ID)
	}

	return ids
}

func TestOrderSteps(t *testing.T) {
	steps := linkedSteps("a", "b", "c")
	shuffled := []*WorkflowStep{steps[2], steps[0], steps[1]}

	assert.Equal(t, []string{"a", "b", "c"}, stepOrder(t, shuffled))
}

func TestOrderSteps_Empty(t *testing.T) {
	ordered, err := orderSteps(nil)
	assert.NoError(t, err)
	assert.Empty(t, ordered)
}

func TestOrderSteps_Cycle(t *testing.T) {
	steps := linkedSteps("a", "b")
	first := "a"
	steps[1].NextID = &first

	_, err := orderSteps(steps)
	assert.Error(t, err)
}

func TestOrderSteps_TwoHeads(t *testing.T) {
	steps := []*WorkflowStep{{ID: "a"}, {ID: "b"}}

	_, err := orderSteps(steps)
	assert.Error(t, err)
}

func TestOrderSteps_ForeignLink(t *testing.T) {
	steps := linkedSteps("a")
	foreign := "z"
	steps[0].NextID = &foreign

	_, err := orderSteps(steps)
	assert.Error(t, err)
}

func TestPlanAddStep_Tail(t *testing.T) {
	steps := linkedSteps("a", "b")

	planned, err := planAddStep(steps, &WorkflowStep{ID: "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, stepOrder(t, planned))

	// The loaded steps are left alone.
	assert.Nil(t, steps[1].NextID)
}

func TestPlanAddStep_Empty(t *testing.T) {
	planned, err := planAddStep(nil, &WorkflowStep{ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, stepOrder(t, planned))
}

func TestPlanAddStep_BeforeHead(t *testing.T) {
	steps := linkedSteps("a", "b")
	next := "a"

	planned, err := planAddStep(steps, &WorkflowStep{ID: "c", NextID: &next})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, stepOrder(t, planned))
}

func TestPlanAddStep_Middle(t *testing.T) {
	steps := linkedSteps("a", "b")
	next := "b"

	planned, err := planAddStep(steps, &WorkflowStep{ID: "c", NextID: &next})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, stepOrder(t, planned))
}

func TestPlanAddStep_UnknownNext(t *testing.T) {
	next := "z"

	_, err := planAddStep(linkedSteps("a"), &WorkflowStep{ID: "c", NextID: &next})
	assert.Equal(t, codes.InvalidArgument, util.Code(err))
}

func TestPlanRemoveStep(t *testing.T) {
	tests := []struct {
		remove string
		want   []string
	}{
		{"a", []string{"b", "c"}},
		{"b", []string{"a", "c"}},
		{"c", []string{"a", "b"}},
	}
	for _, test := range tests {
		planned, err := planRemoveStep(linkedSteps("a", "b", "c"), test.remove)
		require.NoError(t, err)
		assert.Equal(t, test.want, stepOrder(t, planned), "removing %v", test.remove)
	}
}

func TestPlanRemoveStep_NotFound(t *testing.T) {
	_, err := planRemoveStep(linkedSteps("a"), "z")
	assert.Equal(t, codes.NotFound, util.Code(err))
}

func TestPlanMoveStep(t *testing.T) {
	ptr := func(s string) *string { return &s }
	tests := []struct {
		name    string
		move    string
		newNext *string
		want    []string
	}{
		{"head to tail", "a", nil, []string{"b", "c", "a"}},
		{"tail to head", "c", ptr("a"), []string{"c", "a", "b"}},
		{"middle to tail", "b", nil, []string{"a", "c", "b"}},
		{"head to middle", "a", ptr("c"), []string{"b", "a", "c"}},
		{"unchanged next", "a", ptr("b"), []string{"a", "b", "c"}},
		{"tail stays tail", "c", nil, []string{"a", "b", "c"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			planned, err := planMoveStep(linkedSteps("a", "b", "c"), test.move, test.newNext)
			require.NoError(t, err)
			assert.Equal(t, test.want, stepOrder(t, planned))
		})
	}
}

func TestPlanMoveStep_Invalid(t *testing.T) {
	self := "a"
	_, err := planMoveStep(linkedSteps("a", "b"), "a", &self)
	assert.Equal(t, codes.InvalidArgument, util.Code(err))

	foreign := "z"
	_, err = planMoveStep(linkedSteps("a", "b"), "a", &foreign)
	assert.Equal(t, codes.InvalidArgument, util.Code(err))

	_, err = planMoveStep(linkedSteps("a", "b"), "z", nil)
	assert.Equal(t, codes.NotFound, util.Code(err))
}

func TestChangedSteps(t *testing.T) {
	before := linkedSteps("a", "b", "c")
	after, err := planMoveStep(before, "a", nil)
	require.NoError(t, err)

	changed := changedSteps(before, after)
	ids := make([]string, 0, len(changed))
	for _, step := range changed {
		ids = append(ids, step.ID)
	}

	assert.ElementsMatch(t, []string{"a", "c"}, ids)
}
