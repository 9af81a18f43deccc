// Package domain defines the core types and store interfaces for the
// bonding-curve trading engine. Concrete implementations live under
// internal/store and internal/cache.
package domain

import "time"

// Phase is the lifecycle phase of a tradable agent.
type Phase string

const (
	PhaseActive    Phase = "active"
	PhaseGraduated Phase = "graduated"
)

// AgentCurveState is the per-agent trading state priced along a linear
// bonding curve. P0 and P1 are the curve endpoint prices and are immutable
// after creation. The Active → Graduated transition latches exactly once,
// when PromptRaised first crosses the graduation threshold, and is never
// reversed.
type AgentCurveState struct {
	AgentID        string
	CreatorAddress string
	P0             float64
	P1             float64
	SharesSold     float64
	PromptRaised   float64
	LastPrice      float64
	Phase          Phase
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
