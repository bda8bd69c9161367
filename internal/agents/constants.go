package agents

// Rule constants shared by the decision state machines.
const (
	// EstimateRadius is the neighborhood a resident counts security and
	// fellow actives in when estimating its arrest probability.
	EstimateRadius = 1

	// WitnessRadius is how close a detention must happen for a susceptible
	// resident to see it.
	WitnessRadius = 1

	// ArrestRadius is the neighborhood security searches for arrest
	// candidates and fellow security agents.
	ArrestRadius = 1

	// MinSecurityPresent is how many security agents, the arresting one
	// included, must share the arrest neighborhood.
	MinSecurityPresent = 2

	// RecoveryTicks is the cooldown a security agent serves after an arrest.
	RecoveryTicks = 15

	// PersistentActiveTicks: candidates rebelling for more consecutive
	// ticks than this are arrested first.
	PersistentActiveTicks = 3

	// DeviantRiskBound: risk aversion below this forces Deviant.
	DeviantRiskBound = 0.01

	// AggressionErosionCutoff: residents more aggressive than this halve
	// their risk aversion on every activation.
	AggressionErosionCutoff = 0.3

	// SolidarityThreshold: residents more susceptible than this turn Active
	// when they see a neighbor detained.
	SolidarityThreshold = 0.8
)
