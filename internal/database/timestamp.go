package database

import "time"

// TimestampLayout is the ISO-8601 form stored in created_at and timestamp
// columns. The fixed-width fraction keeps lexical and chronological order
// identical.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Timestamp formats t for storage.
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}
