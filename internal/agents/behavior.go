// Per-tick decision state machines.
// Every activation an agent reads its neighborhood, updates its own state,
// and returns an Intent. It never mutates the grid or any other agent; the
// tick loop applies intents.
package agents

import (
	"math"

	"github.com/talgya/unrest/internal/entropy"
	"github.com/talgya/unrest/internal/world"
)

// Context is what an activation may read. It is rebuilt by the tick loop
// and shared by every activation within a tick.
type Context struct {
	Grid *world.Grid[*Agent]
	Rand *entropy.Stream

	ArrestProbConstant float64 // K in 1 - exp(-K * cops / actives)
	Movement           bool

	// DetentionRoom is how many further arrests the detention registry can
	// still accept this tick, pending requests already subtracted.
	DetentionRoom int
}

// Intent is what an activation asks the tick loop to do.
type Intent struct {
	MoveTo *world.Coord // Destination cell, nil to stay
	Arrest *Agent       // Resident to detain, nil for none
}

// Decide runs one activation for a, dispatching on its kind.
func Decide(a *Agent, ctx *Context) Intent {
	switch a.Kind {
	case KindResident:
		return decideResident(a, ctx)
	case KindSecurity:
		return decideSecurity(a, ctx)
	case KindObstacle:
		return Intent{}
	default:
		return Intent{}
	}
}

// EstimateArrestProbability computes 1 - exp(-k * cops / actives) over the
// radius-1 neighborhood of pos. actives counts free Active residents plus
// the estimating resident itself.
func EstimateArrestProbability(g *world.Grid[*Agent], pos world.Coord, k float64) float64 {
	cops := 0
	actives := 1
	for _, n := range g.Neighbors(pos, EstimateRadius) {
		occ, ok := g.Occupant(n)
		if !ok {
			continue
		}
		switch occ.Kind {
		case KindSecurity:
			cops++
		case KindResident:
			if occ.HasCondition(Active) {
				actives++
			}
		case KindObstacle:
		}
	}
	return 1 - math.Exp(-k*float64(cops)/float64(actives))
}

// NextCondition applies the activation rule to a free resident given its
// freshly estimated arrest probability.
func NextCondition(r *Resident) Condition {
	netRisk := r.RiskAversion * r.ArrestProbability
	gap := math.Abs(netRisk - r.ArrestProbability)

	next := r.Condition
	switch r.Condition {
	case Quiescent:
		if gap > r.ActivationThreshold {
			next = Active
		}
	case Active, Deviant:
		if gap <= r.ActivationThreshold {
			next = Quiescent
		}
	}
	return next
}

func decideResident(a *Agent, ctx *Context) Intent {
	r := a.Resident
	if r.Detained {
		return Intent{}
	}

	if r.Aggression > AggressionErosionCutoff {
		r.RiskAversion /= 2
	}

	r.ArrestProbability = EstimateArrestProbability(ctx.Grid, a.Position, ctx.ArrestProbConstant)
	r.Condition = NextCondition(r)

	if r.Condition == Quiescent && r.Susceptibility > SolidarityThreshold && witnessesDetention(ctx.Grid, a.Position, WitnessRadius) {
		r.Condition = Active
	}
	if r.RiskAversion < DeviantRiskBound {
		r.Condition = Deviant
	}

	if r.Condition.Rebelling() {
		r.ConsecutiveActiveTicks++
	} else {
		r.ConsecutiveActiveTicks = 0
	}

	var intent Intent
	if ctx.Movement {
		if dest, ok := chooseResidentMove(a, ctx); ok {
			intent.MoveTo = &dest
		}
	}
	return intent
}

// witnessesDetention reports whether a resident detained this tick, and so
// still on the grid, is within radius of pos.
func witnessesDetention(g *world.Grid[*Agent], pos world.Coord, radius int) bool {
	for _, n := range g.Neighbors(pos, radius) {
		if occ, ok := g.Occupant(n); ok && occ.Detained() {
			return true
		}
	}
	return false
}

func decideSecurity(a *Agent, ctx *Context) Intent {
	s := a.Security
	if s.CooldownRemaining > 0 {
		s.CooldownRemaining--
	} else {
		s.CanArrest = true
	}

	var actives, deviants []*Agent
	present := 1
	for _, n := range ctx.Grid.Neighbors(a.Position, ArrestRadius) {
		occ, ok := ctx.Grid.Occupant(n)
		if !ok {
			continue
		}
		switch occ.Kind {
		case KindSecurity:
			present++
		case KindResident:
			switch {
			case occ.HasCondition(Deviant):
				deviants = append(deviants, occ)
			case occ.HasCondition(Active):
				actives = append(actives, occ)
			}
		case KindObstacle:
		}
	}

	if s.CanArrest && ctx.DetentionRoom > 0 && present >= MinSecurityPresent {
		pool := deviants
		if len(pool) == 0 {
			pool = actives
		}
		if len(pool) > 0 {
			pool = preferPersistent(pool)
			target := pool[ctx.Rand.Pick(len(pool))]
			s.CanArrest = false
			s.CooldownRemaining = RecoveryTicks
			return Intent{Arrest: target}
		}
	}

	var intent Intent
	if ctx.Movement {
		if dest, ok := chooseSecurityMove(a, nearestRebel(a, ctx), ctx); ok {
			intent.MoveTo = &dest
		}
	}
	return intent
}

// preferPersistent narrows candidates to those rebelling longer than
// PersistentActiveTicks, when there are any.
func preferPersistent(pool []*Agent) []*Agent {
	var persistent []*Agent
	for _, c := range pool {
		if c.Resident.ConsecutiveActiveTicks > PersistentActiveTicks {
			persistent = append(persistent, c)
		}
	}
	if len(persistent) == 0 {
		return pool
	}
	return persistent
}

// nearestRebel finds the closest free Deviant within the security agent's
// vision, or failing that the closest free Active. Ties are broken by the
// random stream.
func nearestRebel(a *Agent, ctx *Context) *Agent {
	var deviants, actives []*Agent
	bestDeviant, bestActive := math.MaxInt, math.MaxInt
	for _, n := range ctx.Grid.Neighbors(a.Position, a.Security.Vision) {
		occ, ok := ctx.Grid.Occupant(n)
		if !ok || !occ.Rebel() {
			continue
		}
		d := ctx.Grid.Distance(a.Position, n)
		if occ.Resident.Condition == Deviant {
			deviants, bestDeviant = keepNearest(deviants, bestDeviant, occ, d)
		} else {
			actives, bestActive = keepNearest(actives, bestActive, occ, d)
		}
	}
	switch {
	case len(deviants) > 0:
		return deviants[ctx.Rand.Pick(len(deviants))]
	case len(actives) > 0:
		return actives[ctx.Rand.Pick(len(actives))]
	default:
		return nil
	}
}

func keepNearest(best []*Agent, bestDist int, candidate *Agent, d int) ([]*Agent, int) {
	switch {
	case d < bestDist:
		return []*Agent{candidate}, d
	case d == bestDist:
		return append(best, candidate), bestDist
	default:
		return best, bestDist
	}
}
