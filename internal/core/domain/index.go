package domain

import "time"

// IndexState describes the local mirror of a registry index.
type IndexState struct {
	Registry    Registry
	Path        string
	LastRefresh time.Time
	Revision    string
	// Stale is set when the last refresh attempt failed and the previous snapshot is served.
	Stale bool
}

// Exists reports whether a snapshot has ever been materialized.
func (s IndexState) Exists() bool {
	return s.Revision != ""
}

// Fresh reports whether the snapshot is younger than threshold at now.
// A snapshot that was never refreshed is never fresh.
func (s IndexState) Fresh(now time.Time, threshold time.Duration) bool {
	if s.LastRefresh.IsZero() || !s.Exists() {
		return false
	}
	return now.Sub(s.LastRefresh) < threshold
}
