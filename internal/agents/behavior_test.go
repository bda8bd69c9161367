package agents

import (
	"math"
	"testing"

	"github.com/talgya/unrest/internal/entropy"
	"github.com/talgya/unrest/internal/world"
)

type fixture struct {
	t      *testing.T
	grid   *world.Grid[*Agent]
	ctx    *Context
	nextID AgentID
}

func newFixture(t *testing.T, w, h int, wrap bool) *fixture {
	t.Helper()
	g, err := world.NewGrid[*Agent](w, h, wrap)
	if err != nil {
		t.Fatalf("NewGrid failed: %v", err)
	}
	return &fixture{
		t:    t,
		grid: g,
		ctx: &Context{
			Grid:               g,
			Rand:               entropy.NewStream(11),
			ArrestProbConstant: 2.3,
			DetentionRoom:      10,
		},
		nextID: 1,
	}
}

func (f *fixture) place(a *Agent) *Agent {
	f.t.Helper()
	if err := f.grid.Place(a.Position, a); err != nil {
		f.t.Fatalf("Place failed: %v", err)
	}
	return a
}

func (f *fixture) resident(x, y int, cond Condition) *Agent {
	a := NewResident(f.nextID, world.Coord{X: x, Y: y}, ResidentTraits{RiskAversion: 0.5}, 0.1, 1, DirectionBias{})
	a.Resident.Condition = cond
	f.nextID++
	return f.place(a)
}

func (f *fixture) security(x, y int) *Agent {
	a := NewSecurity(f.nextID, world.Coord{X: x, Y: y}, 5)
	f.nextID++
	return f.place(a)
}

func TestEstimateArrestProbability(t *testing.T) {
	f := newFixture(t, 5, 5, false)
	self := f.resident(2, 2, Quiescent)
	f.security(2, 3)
	f.security(1, 2)
	f.resident(3, 2, Active)

	// Two cops, one active neighbor plus self.
	want := 1 - math.Exp(-2.3*2.0/2.0)
	got := EstimateArrestProbability(f.grid, self.Position, 2.3)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("expected %v, got %v", want, got)
	}

	lonely := newFixture(t, 5, 5, false)
	r := lonely.resident(0, 0, Quiescent)
	if p := EstimateArrestProbability(lonely.grid, r.Position, 2.3); p != 0 {
		t.Errorf("expected 0 with no security nearby, got %v", p)
	}
}

func TestEstimateIgnoresDetainedActives(t *testing.T) {
	f := newFixture(t, 5, 5, false)
	self := f.resident(2, 2, Quiescent)
	f.security(2, 3)
	held := f.resident(3, 2, Active)
	held.Resident.Detained = true

	want := 1 - math.Exp(-2.3)
	if got := EstimateArrestProbability(f.grid, self.Position, 2.3); math.Abs(got-want) > 1e-12 {
		t.Errorf("expected detained active to be ignored: want %v, got %v", want, got)
	}
}

func TestNextCondition(t *testing.T) {
	tests := []struct {
		name string
		r    Resident
		want Condition
	}{
		{"quiescent stays below threshold", Resident{RiskAversion: 0.9, ArrestProbability: 0.5, ActivationThreshold: 0.1, Condition: Quiescent}, Quiescent},
		{"quiescent activates above threshold", Resident{RiskAversion: 0.2, ArrestProbability: 0.5, ActivationThreshold: 0.1, Condition: Quiescent}, Active},
		{"active reverts at threshold", Resident{RiskAversion: 0.8, ArrestProbability: 0.5, ActivationThreshold: 0.1, Condition: Active}, Quiescent},
		{"active persists above threshold", Resident{RiskAversion: 0.2, ArrestProbability: 0.5, ActivationThreshold: 0.1, Condition: Active}, Active},
		{"deviant persists above threshold", Resident{RiskAversion: 0.0, ArrestProbability: 0.9, ActivationThreshold: 0.1, Condition: Deviant}, Deviant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.r
			if got := NextCondition(&r); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestResidentWithVanishingRiskAversionTurnsDeviant(t *testing.T) {
	f := newFixture(t, 5, 5, false)
	r := f.resident(2, 2, Quiescent)
	r.Resident.RiskAversion = 0.001
	r.Resident.ActivationThreshold = 0.99 // unreachable by the regular rule

	Decide(r, f.ctx)
	if r.Resident.Condition != Deviant {
		t.Errorf("expected Deviant, got %s", r.Resident.Condition)
	}
	if r.Resident.ArrestProbability != 0 {
		t.Errorf("expected no security nearby, got arrest probability %v", r.Resident.ArrestProbability)
	}

	// Deviant is sticky: the regular rule would revert it.
	Decide(r, f.ctx)
	if r.Resident.Condition != Deviant {
		t.Errorf("expected Deviant to persist, got %s", r.Resident.Condition)
	}
	if r.Resident.ConsecutiveActiveTicks != 2 {
		t.Errorf("expected 2 consecutive rebel ticks, got %d", r.Resident.ConsecutiveActiveTicks)
	}
}

func TestAggressionErodesRiskAversion(t *testing.T) {
	f := newFixture(t, 5, 5, false)
	r := f.resident(2, 2, Quiescent)
	r.Resident.Aggression = 0.9
	r.Resident.RiskAversion = 0.04

	Decide(r, f.ctx)
	if r.Resident.RiskAversion != 0.02 {
		t.Errorf("expected risk aversion halved to 0.02, got %v", r.Resident.RiskAversion)
	}
	Decide(r, f.ctx)
	Decide(r, f.ctx)
	if r.Resident.Condition != Deviant {
		t.Errorf("expected Deviant once risk aversion drops below bound, got %s", r.Resident.Condition)
	}
}

func TestConsecutiveTicksResetOnQuiescent(t *testing.T) {
	f := newFixture(t, 5, 5, false)
	r := f.resident(2, 2, Active)
	r.Resident.ConsecutiveActiveTicks = 7
	r.Resident.ActivationThreshold = 0.5

	Decide(r, f.ctx)
	if r.Resident.Condition != Quiescent {
		t.Fatalf("expected revert to Quiescent with no risk nearby, got %s", r.Resident.Condition)
	}
	if r.Resident.ConsecutiveActiveTicks != 0 {
		t.Errorf("expected counter reset, got %d", r.Resident.ConsecutiveActiveTicks)
	}
}

func TestDetainedResidentDoesNothing(t *testing.T) {
	f := newFixture(t, 5, 5, false)
	f.ctx.Movement = true
	r := f.resident(2, 2, Active)
	r.Resident.Detained = true
	r.Resident.ArrestProbability = 0.42
	r.Resident.Aggression = 0.9

	intent := Decide(r, f.ctx)
	if intent.MoveTo != nil || intent.Arrest != nil {
		t.Errorf("expected empty intent, got %+v", intent)
	}
	if r.Resident.Condition != Active || r.Resident.ArrestProbability != 0.42 || r.Resident.RiskAversion != 0.5 {
		t.Errorf("detained resident state changed: %+v", r.Resident)
	}
}

func TestWitnessedDetentionActivatesSusceptible(t *testing.T) {
	f := newFixture(t, 5, 5, false)
	r := f.resident(2, 2, Quiescent)
	r.Resident.Susceptibility = 0.95
	r.Resident.ActivationThreshold = 0.99
	held := f.resident(2, 3, Active)
	held.Resident.Detained = true

	Decide(r, f.ctx)
	if r.Resident.Condition != Active {
		t.Errorf("expected Active after witnessing an arrest, got %s", r.Resident.Condition)
	}
}

func TestDistantDetentionGoesUnseen(t *testing.T) {
	f := newFixture(t, 5, 9, false)
	r := f.resident(2, 2, Quiescent)
	r.Resident.Susceptibility = 0.95
	r.Resident.ActivationThreshold = 0.99
	r.Resident.Vision = 7
	held := f.resident(2, 4, Active)
	held.Resident.Detained = true

	Decide(r, f.ctx)
	if r.Resident.Condition != Quiescent {
		t.Errorf("expected a detention two cells away to go unseen, got %s", r.Resident.Condition)
	}
}

func TestLoneSecurityCannotArrest(t *testing.T) {
	f := newFixture(t, 5, 5, false)
	cop := f.security(2, 2)
	f.resident(2, 3, Active)

	intent := Decide(cop, f.ctx)
	if intent.Arrest != nil {
		t.Fatal("expected no arrest without a second security agent")
	}
	if !cop.Security.CanArrest {
		t.Error("expected security to remain arrest-eligible")
	}
}

func TestPairedSecurityArrestsAndCoolsDown(t *testing.T) {
	f := newFixture(t, 5, 5, false)
	cop := f.security(2, 2)
	f.security(1, 2)
	target := f.resident(2, 3, Active)

	intent := Decide(cop, f.ctx)
	if intent.Arrest != target {
		t.Fatalf("expected arrest of %d, got %+v", target.ID, intent.Arrest)
	}
	if intent.MoveTo != nil {
		t.Error("expected no movement in the same activation as an arrest")
	}
	if cop.Security.CanArrest || cop.Security.CooldownRemaining != RecoveryTicks {
		t.Errorf("expected cooldown %d, got %+v", RecoveryTicks, cop.Security)
	}

	// Cooldown counts down before eligibility returns.
	for i := 0; i < RecoveryTicks; i++ {
		if got := Decide(cop, f.ctx); got.Arrest != nil {
			t.Fatalf("arrested during cooldown at activation %d", i)
		}
	}
	if cop.Security.CooldownRemaining != 0 {
		t.Fatalf("expected cooldown exhausted, got %d", cop.Security.CooldownRemaining)
	}
	if got := Decide(cop, f.ctx); got.Arrest != target {
		t.Errorf("expected eligibility restored after cooldown")
	}
}

func TestSecurityRespectsDetentionRoom(t *testing.T) {
	f := newFixture(t, 5, 5, false)
	f.ctx.DetentionRoom = 0
	cop := f.security(2, 2)
	f.security(1, 2)
	f.resident(2, 3, Active)

	if intent := Decide(cop, f.ctx); intent.Arrest != nil {
		t.Error("expected no arrest when detention is full")
	}
}

func TestSecurityPrefersDeviants(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		f := newFixture(t, 5, 5, false)
		f.ctx.Rand = entropy.NewStream(seed)
		cop := f.security(2, 2)
		f.security(1, 2)
		f.resident(2, 3, Active)
		f.resident(3, 2, Active)
		deviant := f.resident(2, 1, Deviant)

		if intent := Decide(cop, f.ctx); intent.Arrest != deviant {
			t.Fatalf("seed %d: expected the deviant to be chosen", seed)
		}
	}
}

func TestSecurityPrefersPersistentRebels(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		f := newFixture(t, 5, 5, false)
		f.ctx.Rand = entropy.NewStream(seed)
		cop := f.security(2, 2)
		f.security(1, 2)
		f.resident(2, 3, Active)
		veteran := f.resident(3, 2, Active)
		veteran.Resident.ConsecutiveActiveTicks = PersistentActiveTicks + 1

		if intent := Decide(cop, f.ctx); intent.Arrest != veteran {
			t.Fatalf("seed %d: expected the persistent rebel to be chosen", seed)
		}
	}
}

func TestSecurityIgnoresDetainedCandidates(t *testing.T) {
	f := newFixture(t, 5, 5, false)
	cop := f.security(2, 2)
	f.security(1, 2)
	held := f.resident(2, 3, Deviant)
	held.Resident.Detained = true

	if intent := Decide(cop, f.ctx); intent.Arrest != nil {
		t.Error("expected detained resident not to be arrested twice")
	}
}

func TestSecurityPursuesNearestDeviant(t *testing.T) {
	f := newFixture(t, 9, 9, false)
	f.ctx.Movement = true
	cop := f.security(4, 4)
	f.resident(4, 6, Active)
	f.resident(7, 4, Deviant)

	intent := Decide(cop, f.ctx)
	if intent.MoveTo == nil {
		t.Fatal("expected a move")
	}
	if *intent.MoveTo != (world.Coord{X: 5, Y: 4}) {
		t.Errorf("expected step east toward the deviant, got %s", *intent.MoveTo)
	}
}

func TestSecurityPursuitWrapsAround(t *testing.T) {
	f := newFixture(t, 10, 10, true)
	f.ctx.Movement = true
	cop := f.security(1, 5)
	f.resident(8, 5, Active)

	intent := Decide(cop, f.ctx)
	if intent.MoveTo == nil || *intent.MoveTo != (world.Coord{X: 0, Y: 5}) {
		t.Errorf("expected step west across the seam, got %v", intent.MoveTo)
	}
}

func TestObstacleNeverActs(t *testing.T) {
	f := newFixture(t, 3, 3, false)
	f.ctx.Movement = true
	o := f.place(NewObstacle(1, world.Coord{X: 1, Y: 1}))
	if intent := Decide(o, f.ctx); intent.MoveTo != nil || intent.Arrest != nil {
		t.Errorf("expected obstacle to do nothing, got %+v", intent)
	}
}
