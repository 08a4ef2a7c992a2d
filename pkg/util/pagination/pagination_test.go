package pagination

import (
	"testing"

	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
)

func TestNewRequest_Defaults(t *testing.T) {
	pr := NewRequest(0, 0)

	assert.Equal(t, uint64(1), pr.Page)
	assert.Equal(t, uint64(15), pr.PageSize)
	assert.Equal(t, uint64(0), pr.Offset())
}

func TestNewRequest_MaxPageSize(t *testing.T) {
	assert.Equal(t, uint64(100), NewRequest(1, 5000).PageSize)
}

func TestPaginationRequest_TotalPages(t *testing.T) {
	pr := NewRequest(1, 10)

	assert.Equal(t, 0, pr.TotalPages(0))
	assert.Equal(t, 1, pr.TotalPages(10))
	assert.Equal(t, 2, pr.TotalPages(11))
}

func TestPaginationRequest_ApplyToSelect(t *testing.T) {
	pr := NewRequest(3, 20)
	sb := squirrel.Select("id").From("tasks")

	query, _, err := pr.ApplyToSelect(sb).ToSql()
	assert.Nil(t, err)
	assert.Equal(t, "SELECT id FROM tasks LIMIT 20 OFFSET 40", query)

	var nilRequest *PaginationRequest
	query, _, err = nilRequest.ApplyToSelect(sb).ToSql()
	assert.Nil(t, err)
	assert.Equal(t, "SELECT id FROM tasks", query)
}
