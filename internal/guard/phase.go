package guard

// Phase is the step of the cycle the guard is executing.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCapturing
	PhaseExtracting
	PhaseParsing
	PhaseClassifying
	PhaseTriaging
	PhaseEnforcing
	PhaseLogging
	PhaseCleanup
)

var phaseNames = [...]string{
	PhaseIdle:        "IDLE",
	PhaseCapturing:   "CAPTURING",
	PhaseExtracting:  "EXTRACTING",
	PhaseParsing:     "PARSING",
	PhaseClassifying: "CLASSIFYING",
	PhaseTriaging:    "TRIAGING",
	PhaseEnforcing:   "ENFORCING",
	PhaseLogging:     "LOGGING",
	PhaseCleanup:     "CLEANUP",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "UNKNOWN"
	}
	return phaseNames[p]
}
