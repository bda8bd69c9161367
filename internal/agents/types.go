// Package agents provides the agent data model and the per-tick decision
// state machines for residents, security agents, and obstacles.
package agents

import (
	"fmt"

	"github.com/talgya/unrest/internal/world"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// Kind tags which variant an Agent is. The set is closed.
type Kind uint8

const (
	KindResident Kind = iota
	KindSecurity
	KindObstacle
)

func (k Kind) String() string {
	switch k {
	case KindResident:
		return "resident"
	case KindSecurity:
		return "security"
	case KindObstacle:
		return "obstacle"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind maps a kind name back to its tag.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "resident", "citizen":
		return KindResident, nil
	case "security", "cop":
		return KindSecurity, nil
	case "obstacle", "block":
		return KindObstacle, nil
	}
	return 0, fmt.Errorf("unknown agent kind %q", s)
}

// Condition is a resident's rebellion state.
type Condition uint8

const (
	Quiescent Condition = iota // Not rebelling
	Active                     // Visibly rebelling
	Deviant                    // Escalated rebellion, near-zero risk aversion
)

func (c Condition) String() string {
	switch c {
	case Quiescent:
		return "quiescent"
	case Active:
		return "active"
	case Deviant:
		return "deviant"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Condition) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Condition) UnmarshalText(text []byte) error {
	parsed, err := ParseCondition(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCondition maps a condition name back to its value.
func ParseCondition(s string) (Condition, error) {
	switch s {
	case "quiescent":
		return Quiescent, nil
	case "active":
		return Active, nil
	case "deviant":
		return Deviant, nil
	}
	return 0, fmt.Errorf("unknown condition %q", s)
}

// Rebelling reports whether the condition is Active or Deviant.
func (c Condition) Rebelling() bool {
	return c == Active || c == Deviant
}

// Agent is one occupant of the grid. Exactly one of Resident and Security
// is non-nil for those kinds; obstacles carry neither.
type Agent struct {
	ID       AgentID     `json:"id"`
	Kind     Kind        `json:"kind"`
	Position world.Coord `json:"position"`

	Resident *Resident `json:"resident,omitempty"`
	Security *Security `json:"security,omitempty"`
}

// Resident is the mutable state of an ordinary member of the population.
type Resident struct {
	RiskAversion        float64       `json:"risk_aversion"` // [0,1), eroded by aggression
	ActivationThreshold float64       `json:"activation_threshold"`
	Vision              int           `json:"vision"`
	Aggression          float64       `json:"aggression"`     // [0,1)
	Susceptibility      float64       `json:"susceptibility"` // [0,1), reaction to witnessed arrests
	Bias                DirectionBias `json:"direction_bias"`

	Condition              Condition `json:"condition"`
	Detained               bool      `json:"detained"`
	ArrestProbability      float64   `json:"arrest_probability"`
	ConsecutiveActiveTicks int       `json:"consecutive_active_ticks"`
}

// Security is the mutable state of a security agent.
type Security struct {
	Vision            int  `json:"vision"`
	CanArrest         bool `json:"can_arrest"`
	CooldownRemaining int  `json:"cooldown_remaining"`
}

// ResidentTraits are the exogenous attributes a placement strategy draws
// for each new resident.
type ResidentTraits struct {
	RiskAversion   float64
	Aggression     float64
	Susceptibility float64
}

// NewResident creates a Quiescent, free resident.
func NewResident(id AgentID, pos world.Coord, traits ResidentTraits, threshold float64, vision int, bias DirectionBias) *Agent {
	return &Agent{
		ID:       id,
		Kind:     KindResident,
		Position: pos,
		Resident: &Resident{
			RiskAversion:        traits.RiskAversion,
			ActivationThreshold: threshold,
			Vision:              vision,
			Aggression:          traits.Aggression,
			Susceptibility:      traits.Susceptibility,
			Bias:                bias,
			Condition:           Quiescent,
		},
	}
}

// NewSecurity creates a security agent able to arrest immediately.
func NewSecurity(id AgentID, pos world.Coord, vision int) *Agent {
	return &Agent{
		ID:       id,
		Kind:     KindSecurity,
		Position: pos,
		Security: &Security{Vision: vision, CanArrest: true},
	}
}

// NewObstacle creates an immovable obstacle.
func NewObstacle(id AgentID, pos world.Coord) *Agent {
	return &Agent{ID: id, Kind: KindObstacle, Position: pos}
}

// Detained reports whether the agent is a resident held by security.
func (a *Agent) Detained() bool {
	return a.Kind == KindResident && a.Resident.Detained
}

// Rebel reports whether the agent is a free resident in Active or Deviant
// condition.
func (a *Agent) Rebel() bool {
	return a.Kind == KindResident && !a.Resident.Detained && a.Resident.Condition.Rebelling()
}

// HasCondition reports whether the agent is a free resident in condition c.
func (a *Agent) HasCondition(c Condition) bool {
	return a.Kind == KindResident && !a.Resident.Detained && a.Resident.Condition == c
}
