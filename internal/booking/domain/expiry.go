package domain

import "time"

// WillExpireAt returns when a pending job stops being offered to
// translators, given when it was (re)opened.
func WillExpireAt(due, createdAt time.Time) time.Time {
	gap := due.Sub(createdAt)
	switch {
	case gap <= 90*time.Minute:
		return due
	case gap <= 24*time.Hour:
		return createdAt.Add(90 * time.Minute)
	case gap <= 72*time.Hour:
		return createdAt.Add(16 * time.Hour)
	default:
		return due.Add(-48 * time.Hour)
	}
}
