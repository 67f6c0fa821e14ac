package model

import (
	"database/sql"
	"time"
)

// IngestionRun records one pass over the ODA feed
type IngestionRun struct {
	ID                  string
	StartedAt           time.Time
	FinishedAt          sql.NullTime
	LastWatermarkBefore sql.NullTime
	LastWatermarkAfter  sql.NullTime
	FetchedCount        int
	UpdatedCount        int
	Error               sql.NullString
	CreatedAt           time.Time
}

// Succeeded reports whether the run finished without an error
func (r IngestionRun) Succeeded() bool {
	return r.FinishedAt.Valid && !r.Error.Valid
}
