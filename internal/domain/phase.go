package domain

// Phase is the cold-start maturity stage gating thresholds and leverage.
type Phase string

const (
	PhaseExploration  Phase = "exploration"
	PhaseExploitation Phase = "exploitation"
	PhaseMature       Phase = "mature"
)
