package pagination

import (
	"github.com/Masterminds/squirrel"
)

const (
	defaultPageSize = 15
	maxPageSize     = 100
)

// PaginationRequest selects one page of a list result. Pages start at 1.
type PaginationRequest struct {
	Page     uint64
	PageSize uint64
}

// NewRequest creates a PaginationRequest. Non positive values select the first page of 15 items,
// page sizes above 100 are lowered to 100.
func NewRequest(page, pageSize int) *PaginationRequest {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	return &PaginationRequest{
		Page:     uint64(page),
		PageSize: uint64(pageSize),
	}
}

func (pr *PaginationRequest) Offset() uint64 {
	return (pr.Page - 1) * pr.PageSize
}

// TotalPages is the number of pages needed to show count items.
func (pr *PaginationRequest) TotalPages(count int) int {
	if count <= 0 {
		return 0
	}

	return int((uint64(count) + pr.PageSize - 1) / pr.PageSize)
}

// ApplyToSelect adds limit and offset to sb. A nil request leaves sb untouched.
func (pr *PaginationRequest) ApplyToSelect(sb squirrel.SelectBuilder) squirrel.SelectBuilder {
	if pr == nil {
		return sb
	}

	return sb.Limit(pr.PageSize).
		Offset(pr.Offset())
}
