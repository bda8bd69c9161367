// Movement preferences and destination choice.
package agents

import (
	"fmt"
	"strings"

	"github.com/talgya/unrest/internal/entropy"
	"github.com/talgya/unrest/internal/world"
)

// BiasMode selects how a resident prefers to move.
type BiasMode uint8

const (
	BiasRandom        BiasMode = iota // Any empty neighbor
	BiasFixed                         // Always one compass heading
	BiasClockwise                     // Circulate clockwise around the grid center
	BiasAnticlockwise                 // Circulate anticlockwise around the grid center
)

// DirectionBias is a configured movement preference.
type DirectionBias struct {
	Mode    BiasMode
	Heading world.Direction // Only meaningful for BiasFixed
}

func (b DirectionBias) String() string {
	switch b.Mode {
	case BiasFixed:
		return b.Heading.String()
	case BiasClockwise:
		return "clockwise"
	case BiasAnticlockwise:
		return "anticlockwise"
	default:
		return "random"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (b DirectionBias) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so the bias can be read
// straight from YAML, TOML, or JSON.
func (b *DirectionBias) UnmarshalText(text []byte) error {
	parsed, err := ParseDirectionBias(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ParseDirectionBias accepts "random" (or "none"/""), "clockwise",
// "anticlockwise", or a compass heading.
func ParseDirectionBias(s string) (DirectionBias, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "", "_", "", " ", "").Replace(norm)
	switch norm {
	case "", "random", "none":
		return DirectionBias{Mode: BiasRandom}, nil
	case "clockwise":
		return DirectionBias{Mode: BiasClockwise}, nil
	case "anticlockwise", "counterclockwise":
		return DirectionBias{Mode: BiasAnticlockwise}, nil
	}
	if d, ok := world.ParseDirection(norm); ok {
		return DirectionBias{Mode: BiasFixed, Heading: d}, nil
	}
	return DirectionBias{}, fmt.Errorf("unknown direction bias %q", s)
}

// preferredHeading returns the heading the bias asks for at pos. Rotational
// biases read the quadrant of pos relative to the grid center.
func preferredHeading[T comparable](b DirectionBias, g *world.Grid[T], pos world.Coord) (world.Direction, bool) {
	switch b.Mode {
	case BiasFixed:
		return b.Heading, true
	case BiasClockwise:
		north, east := quadrant(g, pos)
		switch {
		case north && !east:
			return world.East, true
		case north && east:
			return world.South, true
		case !north && east:
			return world.West, true
		default:
			return world.North, true
		}
	case BiasAnticlockwise:
		north, east := quadrant(g, pos)
		switch {
		case north && !east:
			return world.South, true
		case !north && !east:
			return world.East, true
		case !north && east:
			return world.North, true
		default:
			return world.West, true
		}
	default:
		return 0, false
	}
}

func quadrant[T comparable](g *world.Grid[T], pos world.Coord) (north, east bool) {
	return pos.Y >= g.Height()/2, pos.X >= g.Width()/2
}

// chooseResidentMove picks a destination among empty von Neumann neighbors,
// honoring the bias when a matching cell is free and falling back to a
// uniformly random empty cell otherwise.
func chooseResidentMove(a *Agent, ctx *Context) (world.Coord, bool) {
	empties := ctx.Grid.EmptyNeighbors(a.Position, 1)
	if len(empties) == 0 {
		return world.Coord{}, false
	}
	if heading, ok := preferredHeading(a.Resident.Bias, ctx.Grid, a.Position); ok {
		if want, ok := ctx.Grid.Step(a.Position, heading); ok {
			for _, e := range empties {
				if e == want {
					return e, true
				}
			}
		}
	}
	return pick(ctx.Rand, empties), true
}

// chooseSecurityMove advances one cell toward target along any axis that
// shortens the distance. With no target, or when every such cell is
// blocked, it takes a uniformly random empty neighbor.
func chooseSecurityMove(a *Agent, target *Agent, ctx *Context) (world.Coord, bool) {
	empties := ctx.Grid.EmptyNeighbors(a.Position, 1)
	if len(empties) == 0 {
		return world.Coord{}, false
	}
	if target != nil {
		if progress := progressSteps(ctx.Grid, a.Position, target.Position); len(progress) > 0 {
			return pick(ctx.Rand, progress), true
		}
	}
	return pick(ctx.Rand, empties), true
}

func progressSteps(g *world.Grid[*Agent], from, to world.Coord) []world.Coord {
	dx, dy := g.Delta(from, to)
	var headings []world.Direction
	switch {
	case dx > 0:
		headings = append(headings, world.East)
	case dx < 0:
		headings = append(headings, world.West)
	}
	switch {
	case dy > 0:
		headings = append(headings, world.North)
	case dy < 0:
		headings = append(headings, world.South)
	}

	var out []world.Coord
	for _, h := range headings {
		if c, ok := g.Step(from, h); ok && g.IsEmpty(c) {
			out = append(out, c)
		}
	}
	return out
}

func pick(rng *entropy.Stream, cells []world.Coord) world.Coord {
	return cells[rng.Pick(len(cells))]
}
