// Package pagination normalizes page-number pagination for list endpoints.
package pagination

// Config configures page and limit normalization.
type Config struct {
	DefaultLimit int
	MaxLimit     int
}

// Page holds a normalized page request.
type Page struct {
	Number int
	Limit  int
}

// Offset returns the row offset for the page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// Meta describes one page of results in list responses.
type Meta struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// Normalize applies defaults and limits for page requests.
func Normalize(page, limit int, cfg Config) Page {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = cfg.DefaultLimit
	}
	if cfg.MaxLimit > 0 && limit > cfg.MaxLimit {
		limit = cfg.MaxLimit
	}
	if limit <= 0 {
		limit = 1
	}
	return Page{Number: page, Limit: limit}
}

// NewMeta builds response metadata for a page over total rows.
func NewMeta(p Page, total int) Meta {
	pages := 0
	if total > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return Meta{Page: p.Number, Limit: p.Limit, Total: total, Pages: pages}
}
