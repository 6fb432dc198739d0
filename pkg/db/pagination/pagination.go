package pagination

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Page is an offset window requested by list endpoints.
type Page struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// Normalize clamps the window into [1, MaxLimit] and a non-negative offset.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// PageInfo is returned next to list payloads.
type PageInfo struct {
	TotalCount int64 `json:"totalCount"`
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
	HasMore    bool  `json:"hasMore"`
}

func BuildPageInfo(p Page, total int64) PageInfo {
	p = p.Normalize()
	return PageInfo{
		TotalCount: total,
		Limit:      p.Limit,
		Offset:     p.Offset,
		HasMore:    int64(p.Offset+p.Limit) < total,
	}
}
