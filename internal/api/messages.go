// Package api defines the JSON payloads of the status surface.
package api

import (
	"time"

	"github.com/skobkin/regsampler/internal/sampler"
)

// RunInfo identifies the run being sampled.
type RunInfo struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Target    []string  `json:"target,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// StatusResponse is served by GET /api/status.
type StatusResponse struct {
	Run     RunInfo          `json:"run"`
	Stats   sampler.Stats    `json:"stats"`
	Summary *sampler.Summary `json:"summary,omitempty"`
	Sites   SiteStats        `json:"sites"`
}

// SiteStats reports disassembly cache usage.
type SiteStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type       string  `json:"type"`
	IntervalMS int     `json:"interval_ms"`
	Run        RunInfo `json:"run"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(intervalMS int, run RunInfo) HelloMessage {
	return HelloMessage{
		Type:       "hello",
		IntervalMS: intervalMS,
		Run:        run,
	}
}

// StatusMessage wraps a controller snapshot for transport.
type StatusMessage struct {
	Type string `json:"type"`
	sampler.Stats
}

// NewStatusMessage constructs a status payload.
func NewStatusMessage(stats sampler.Stats) StatusMessage {
	return StatusMessage{
		Type:  "status",
		Stats: stats,
	}
}

// FinishedMessage carries the end-of-run summary.
type FinishedMessage struct {
	Type string `json:"type"`
	sampler.Summary
}

// NewFinishedMessage constructs a finished payload.
func NewFinishedMessage(summary sampler.Summary) FinishedMessage {
	return FinishedMessage{
		Type:    "finished",
		Summary: summary,
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
