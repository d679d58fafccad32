package types

// Pagination is the page/limit pair accepted by list operations. Values
// below one are clamped to one; the API layer substitutes DefaultPageLimit
// when the client sends no limit at all.
type Pagination struct {
	Page  int `form:"page" json:"page"`
	Limit int `form:"limit" json:"limit"`
}

const DefaultPageLimit = 20

func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 1
	}

	return p
}

type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// Paginate slices items in memory. A page past the end yields no items.
func Paginate[T any](items []T, p Pagination) Page[T] {
	p = p.Normalize()
	total := len(items)

	// Bounds are derived from total so huge page or limit values cannot
	// overflow.
	start := total
	if p.Page-1 <= total/p.Limit {
		start = min(total, (p.Page-1)*p.Limit)
	}
	end := start + min(p.Limit, total-start)

	totalPages := total / p.Limit
	if total%p.Limit != 0 {
		totalPages++
	}
	page := make([]T, 0, end-start)
	page = append(page, items[start:end]...)

	return Page[T]{
		Items:      page,
		Total:      total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: totalPages,
	}
}

type ErrorResponse struct {
	Status  int       `json:"status"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message"`
}
