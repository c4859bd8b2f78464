package models

import "time"

// VisitorSample is one deduplicated visit observation. VisitorHash is a keyed
// one-way hash of the visitor identity; raw identity is never stored.
type VisitorSample struct {
	Path        string
	VisitorHash string
	Bucket      string
	RecordedAt  time.Time
}
