// Package models defines data structures for the claimer.
package models

import "time"

// Offer is the day's promotional ebook as found on the offer page.
type Offer struct {
	ID       string
	Title    string
	ClaimURL string
}

// ClaimRecord is one row of claim history.
type ClaimRecord struct {
	BookID    string    `csv:"book_id" json:"book_id"`
	Title     string    `csv:"title" json:"title"`
	ClaimURL  string    `csv:"claim_url" json:"claim_url"`
	Format    string    `csv:"format" json:"format,omitempty"`
	FilePath  string    `csv:"file_path" json:"file_path,omitempty"`
	Bytes     int64     `csv:"bytes" json:"bytes"`
	ClaimedAt time.Time `csv:"claimed_at" json:"claimed_at"`
}

// RunResult holds the outcome of one claim run.
type RunResult struct {
	RunID        string
	Offer        *Offer
	Claimed      bool
	Downloaded   bool
	Skipped      bool
	FilePath     string
	Bytes        int64
	StartTime    time.Time
	EndTime      time.Time
	RequestCount int
	ErrorsByType map[string]int
}
