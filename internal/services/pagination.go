package services

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Page describes one offset based page of a result set.
type Page struct {
	Number    int `json:"page"`
	PageSize  int `json:"pageSize"`
	Total     int `json:"total"`
	PageCount int `json:"pageCount"`
}

// paginate clamps page and pageSize and returns the slice bounds for total
// records. Pages past the end are empty.
func paginate(total, page, pageSize int) (Page, int, int) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page < 1 {
		page = 1
	}

	p := Page{
		Number:    page,
		PageSize:  pageSize,
		Total:     total,
		PageCount: (total + pageSize - 1) / pageSize,
	}

	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := min(start+pageSize, total)
	return p, start, end
}
