package models

// ProgressKind names one of the per-user question id sets
type ProgressKind string

const (
	Completed  ProgressKind = "completed"
	Bookmarked ProgressKind = "bookmarked"
)
