// Package placement fills an empty model with its initial population.
// Every strategy walks the grid once and draws from the model's random
// stream, so a seed reproduces the starting layout exactly.
package placement

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/engine"
	"github.com/talgya/unrest/internal/entropy"
	"github.com/talgya/unrest/internal/world"
)

// Placer is the model's placement interface.
type Placer interface {
	Width() int
	Height() int
	IsEmpty(pos world.Coord) bool
	PlaceResident(pos world.Coord, traits agents.ResidentTraits) (*agents.Agent, error)
	PlaceSecurity(pos world.Coord) (*agents.Agent, error)
	PlaceObstacle(pos world.Coord) (*agents.Agent, error)
}

// Strategy decides the initial distribution of agents.
type Strategy interface {
	Populate(p Placer, rng *entropy.Stream, cfg Config) error
}

// Environment names a built-in strategy.
type Environment string

const (
	EnvRandom      Environment = "random"
	EnvBlockMiddle Environment = "block-middle"
	EnvCopsMiddle  Environment = "cops-middle"
	EnvWall        Environment = "wall"
	EnvStreet      Environment = "street"
	EnvClustered   Environment = "clustered"
)

// Environments lists every built-in strategy.
var Environments = []Environment{EnvRandom, EnvBlockMiddle, EnvCopsMiddle, EnvWall, EnvStreet, EnvClustered}

// ParseEnvironment accepts the short names above as well as the long
// descriptive names ("Random distribution", "Wall of cops", ...).
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "random", "random distribution":
		return EnvRandom, nil
	case "block-middle", "block in the middle":
		return EnvBlockMiddle, nil
	case "cops-middle", "cops in the middle":
		return EnvCopsMiddle, nil
	case "wall", "wall of cops":
		return EnvWall, nil
	case "street", "streets":
		return EnvStreet, nil
	case "clustered", "noise":
		return EnvClustered, nil
	}
	return "", fmt.Errorf("%w: unknown environment %q", engine.ErrConfiguration, s)
}

// ForEnvironment returns the strategy for env.
func ForEnvironment(env Environment) (Strategy, error) {
	switch env {
	case EnvRandom:
		return Random{}, nil
	case EnvBlockMiddle:
		return MiddleSquare{Fill: KindObstacle}, nil
	case EnvCopsMiddle:
		return MiddleSquare{Fill: KindSecurity}, nil
	case EnvWall:
		return Wall{}, nil
	case EnvStreet:
		return Street{}, nil
	case EnvClustered:
		return Clustered{}, nil
	}
	return nil, fmt.Errorf("%w: unknown environment %q", engine.ErrConfiguration, env)
}

// Config holds placement options.
type Config struct {
	Environment Environment `yaml:"environment" toml:"environment" json:"environment"`
	GridDensity float64     `yaml:"grid_density" toml:"grid_density" json:"grid_density"` // Share of cells populated
	Ratio       float64     `yaml:"ratio" toml:"ratio" json:"ratio"`                      // Resident share of the populated cells
	Barricade   int         `yaml:"barricade" toml:"barricade" json:"barricade"`          // Obstacle count for random and wall layouts
	Aggression  float64     `yaml:"aggression" toml:"aggression" json:"aggression"`       // Shared aggression; negative draws U(0,1) per resident
}

// DefaultConfig returns a random layout at 70% density.
func DefaultConfig() Config {
	return Config{
		Environment: EnvRandom,
		GridDensity: 0.7,
		Ratio:       0.8,
		Barricade:   4,
		Aggression:  -1,
	}
}

// Validate checks ranges that do not depend on the grid size.
func (c Config) Validate() error {
	switch {
	case c.GridDensity < 0 || c.GridDensity > 1:
		return fmt.Errorf("%w: grid_density %g outside [0,1]", engine.ErrConfiguration, c.GridDensity)
	case c.Ratio < 0 || c.Ratio > 1:
		return fmt.Errorf("%w: ratio %g outside [0,1]", engine.ErrConfiguration, c.Ratio)
	case c.Barricade < 0:
		return fmt.Errorf("%w: negative barricade %d", engine.ErrConfiguration, c.Barricade)
	case c.Aggression >= 1:
		return fmt.Errorf("%w: aggression %g must be below 1", engine.ErrConfiguration, c.Aggression)
	}
	if _, err := ForEnvironment(c.Environment); err != nil {
		return err
	}
	return nil
}

// Populate validates cfg and runs its strategy against p.
func Populate(p Placer, rng *entropy.Stream, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s, err := ForEnvironment(cfg.Environment)
	if err != nil {
		return err
	}
	tally := &counter{Placer: p}
	if err := s.Populate(tally, rng, cfg); err != nil {
		return fmt.Errorf("populate %s: %w", cfg.Environment, err)
	}
	slog.Info("population placed",
		"environment", cfg.Environment,
		"residents", tally.residents,
		"security", tally.security,
		"obstacles", tally.obstacles,
	)
	return nil
}

// Kind is what a strategy puts in a cell.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindResident
	KindSecurity
	KindObstacle
)

// put places k at c, drawing resident traits from rng. Occupied cells are
// left alone so strategies can be layered.
func put(p Placer, rng *entropy.Stream, cfg Config, c world.Coord, k Kind) error {
	if k == KindEmpty || !p.IsEmpty(c) {
		return nil
	}
	var err error
	switch k {
	case KindResident:
		_, err = p.PlaceResident(c, drawTraits(rng, cfg))
	case KindSecurity:
		_, err = p.PlaceSecurity(c)
	case KindObstacle:
		_, err = p.PlaceObstacle(c)
	}
	return err
}

func drawTraits(rng *entropy.Stream, cfg Config) agents.ResidentTraits {
	t := agents.ResidentTraits{RiskAversion: rng.Float()}
	if cfg.Aggression < 0 {
		t.Aggression = rng.Float()
	} else {
		t.Aggression = cfg.Aggression
	}
	t.Susceptibility = rng.Float()
	return t
}

// choose draws one of kinds with probability proportional to weights.
func choose(rng *entropy.Stream, weights []float64, kinds []Kind) Kind {
	i := rng.Weighted(weights)
	if i < 0 {
		return KindEmpty
	}
	return kinds[i]
}

// eachCell visits the grid row by row from the south-west corner.
func eachCell(p Placer, fn func(world.Coord) error) error {
	for y := 0; y < p.Height(); y++ {
		for x := 0; x < p.Width(); x++ {
			if err := fn(world.Coord{X: x, Y: y}); err != nil {
				return err
			}
		}
	}
	return nil
}

// counter tallies successful placements for the summary log.
type counter struct {
	Placer
	residents, security, obstacles int
}

func (c *counter) PlaceResident(pos world.Coord, t agents.ResidentTraits) (*agents.Agent, error) {
	a, err := c.Placer.PlaceResident(pos, t)
	if err == nil {
		c.residents++
	}
	return a, err
}

func (c *counter) PlaceSecurity(pos world.Coord) (*agents.Agent, error) {
	a, err := c.Placer.PlaceSecurity(pos)
	if err == nil {
		c.security++
	}
	return a, err
}

func (c *counter) PlaceObstacle(pos world.Coord) (*agents.Agent, error) {
	a, err := c.Placer.PlaceObstacle(pos)
	if err == nil {
		c.obstacles++
	}
	return a, err
}
