package scheduler

// Package scheduler manages the background jobs of the watchlist backend:
// - Daily ingestion run after US market close
// - Weekly cleanup of old ingestion run records
//
// The jobs are implemented in jobs.go
