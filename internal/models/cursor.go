package models

import "time"

const (
	MinCursorPage     = 1
	MinCursorPageSize = 50
	DefaultPageSize   = 200
)

// Cursor is the persisted pagination position of one resource
type Cursor struct {
	Resource  Resource  `db:"resource"`
	Page      int       `db:"page"`
	PageSize  int       `db:"page_size"`
	UpdatedAt time.Time `db:"updated_at"`
}

// NewCursor returns the start position for a resource
func NewCursor(r Resource) Cursor {
	return Cursor{Resource: r, Page: MinCursorPage, PageSize: DefaultPageSize}
}

// Clamp guards against corrupted persisted positions
func (c Cursor) Clamp() Cursor {
	if c.Page < MinCursorPage {
		c.Page = MinCursorPage
	}
	if c.PageSize < MinCursorPageSize {
		c.PageSize = MinCursorPageSize
	}
	return c
}

// PagesFor returns how many whole pages cover target items
func (c Cursor) PagesFor(target int) int {
	if target <= 0 {
		return 0
	}
	size := c.Clamp().PageSize
	return (target + size - 1) / size
}
