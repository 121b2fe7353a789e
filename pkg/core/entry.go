package core

// LogEntry is a single text line read from one log stream of a workload.
// LineNumber starts at 1 and is scoped to the stream the line came from,
// so two streams of the same resource both count from 1.
type LogEntry struct {
	LineNumber int    `json:"line_number"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// LogEntryBatch holds whatever entries were buffered at one consumption
// step. Entries from the same stream keep their relative order; entries
// from different streams are in arrival order, which is not guaranteed.
type LogEntryBatch []LogEntry
