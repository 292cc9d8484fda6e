package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CategoryTotal is the time spent in one category across sessions.
type CategoryTotal struct {
	Category string        `json:"category"`
	Duration time.Duration `json:"duration"`
	Sessions int           `json:"sessions"`
}

// Stats summarizes stored sessions.
type Stats struct {
	Sessions   int             `json:"sessions"`
	Total      time.Duration   `json:"total"`
	Average    time.Duration   `json:"average"`
	Categories []CategoryTotal `json:"categories"`
	Since      time.Time       `json:"since,omitzero"`
}
