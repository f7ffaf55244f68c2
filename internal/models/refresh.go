package models

// RefreshStatus summarizes a refresh across all configured databases
type RefreshStatus string

const (
	RefreshSuccess RefreshStatus = "success" // every database produced a snapshot
	RefreshPartial RefreshStatus = "partial" // some databases failed
	RefreshFailure RefreshStatus = "failure" // no snapshot was written, or the store failed
)
