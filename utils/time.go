// Package utils provides utility functions for the application.
package utils

import (
	"time"
)

// SQLDateTimeLayout is the "YYYY-MM-DD HH:MM:SS" layout expected by the sales aggregator
const SQLDateTimeLayout = "2006-01-02 15:04:05"

// UTCNow returns the current time in UTC
func UTCNow() time.Time {
	return time.Now().UTC()
}

// UTCNowPtr returns a pointer to the current time in UTC
func UTCNowPtr() *time.Time {
	now := UTCNow()
	return &now
}

// UnixSecondsToUTCPtr converts a unix timestamp in seconds to a UTC time pointer.
// Zero or negative values yield nil.
func UnixSecondsToUTCPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// FormatSQLDateTime formats t in UTC using SQLDateTimeLayout
func FormatSQLDateTime(t time.Time) string {
	return t.UTC().Format(SQLDateTimeLayout)
}
