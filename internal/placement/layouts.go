package placement

import (
	"fmt"

	"github.com/talgya/unrest/internal/engine"
	"github.com/talgya/unrest/internal/entropy"
	"github.com/talgya/unrest/internal/world"
)

// shares splits the populated cells of a grid into resident and security
// counts after setting aside barricade obstacles.
type shares struct {
	total, empty, residents, security, obstacles float64
}

func randomShares(p Placer, cfg Config) (shares, error) {
	total := float64(p.Width() * p.Height())
	populated := total*cfg.GridDensity - float64(cfg.Barricade)
	if populated < 0 {
		return shares{}, fmt.Errorf("%w: barricade %d exceeds the %g populated cells", engine.ErrConfiguration, cfg.Barricade, total*cfg.GridDensity)
	}
	residents := populated * cfg.Ratio
	return shares{
		total:     total,
		empty:     total - populated - float64(cfg.Barricade),
		residents: residents,
		security:  populated - residents,
		obstacles: float64(cfg.Barricade),
	}, nil
}

// Random draws every cell independently: empty, resident, security, or
// obstacle in proportion to the configured shares.
type Random struct{}

func (Random) Populate(p Placer, rng *entropy.Stream, cfg Config) error {
	s, err := randomShares(p, cfg)
	if err != nil {
		return err
	}
	weights := []float64{s.empty, s.residents, s.security, s.obstacles}
	kinds := []Kind{KindEmpty, KindResident, KindSecurity, KindObstacle}
	return eachCell(p, func(c world.Coord) error {
		return put(p, rng, cfg, c, choose(rng, weights, kinds))
	})
}

// Wall packs the security share into the westernmost columns, filling
// each column south to north, and draws the rest of the grid as residents,
// obstacles, or empty cells.
type Wall struct{}

func (Wall) Populate(p Placer, rng *entropy.Stream, cfg Config) error {
	s, err := randomShares(p, cfg)
	if err != nil {
		return err
	}
	wall := int(s.security)
	h := p.Height()

	weights := []float64{s.empty, s.residents, s.obstacles}
	kinds := []Kind{KindEmpty, KindResident, KindObstacle}
	return eachCell(p, func(c world.Coord) error {
		if c.X*h+c.Y < wall {
			return put(p, rng, cfg, c, KindSecurity)
		}
		return put(p, rng, cfg, c, choose(rng, weights, kinds))
	})
}

// MiddleSquare fills the middle third of the grid in both axes with Fill,
// then draws the surroundings. Around an obstacle block the surroundings
// hold residents and security; around a security block they hold
// residents and obstacles.
type MiddleSquare struct {
	Fill Kind
}

func (m MiddleSquare) Populate(p Placer, rng *entropy.Stream, cfg Config) error {
	if m.Fill != KindObstacle && m.Fill != KindSecurity {
		return fmt.Errorf("%w: middle square must hold obstacles or security", engine.ErrConfiguration)
	}
	w, h := float64(p.Width()), float64(p.Height())
	xs, ys := w/3, h/3
	xe, ye := w-xs, h-ys
	inside := func(c world.Coord) bool {
		x, y := float64(c.X), float64(c.Y)
		return xs <= x && x <= xe && ys <= y && y <= ye
	}

	block := 0
	err := eachCell(p, func(c world.Coord) error {
		if !inside(c) {
			return nil
		}
		block++
		return put(p, rng, cfg, c, m.Fill)
	})
	if err != nil {
		return err
	}

	total := w * h
	populated := (total - float64(block)) * cfg.GridDensity
	weights := []float64{
		total - populated - float64(block),
		populated * cfg.Ratio,
		populated - populated*cfg.Ratio,
	}
	kinds := []Kind{KindEmpty, KindResident, KindSecurity}
	if m.Fill == KindSecurity {
		weights[2] = float64(block)
		kinds[2] = KindObstacle
	}

	return eachCell(p, func(c world.Coord) error {
		if inside(c) {
			return nil
		}
		return put(p, rng, cfg, c, choose(rng, weights, kinds))
	})
}

// Street lines the outer sixths of the grid (east and west) with
// obstacles and runs a two-column wall down the middle, leaving a gap of a
// sixth at its north and south ends. The open lanes are drawn as residents
// and security.
type Street struct{}

func (Street) Populate(p Placer, rng *entropy.Stream, cfg Config) error {
	w, h := p.Width(), p.Height()
	side := float64(w) / 6
	xWest, xEast := side, float64(w)-side
	yStart := float64(h) / 6
	yEnd := float64(h) - yStart
	mid := w / 2

	wall := func(c world.Coord) bool {
		x, y := float64(c.X), float64(c.Y)
		if x <= xWest || x >= xEast {
			return true
		}
		return (c.X == mid || c.X == mid+1) && yStart <= y && y <= yEnd
	}

	block := 0
	err := eachCell(p, func(c world.Coord) error {
		if !wall(c) {
			return nil
		}
		block++
		return put(p, rng, cfg, c, KindObstacle)
	})
	if err != nil {
		return err
	}

	total := float64(w * h)
	populated := (total - float64(block)) * cfg.GridDensity
	weights := []float64{
		total - populated - float64(block),
		populated * cfg.Ratio,
		populated - populated*cfg.Ratio,
	}
	kinds := []Kind{KindEmpty, KindResident, KindSecurity}
	return eachCell(p, func(c world.Coord) error {
		if wall(c) {
			return nil
		}
		return put(p, rng, cfg, c, choose(rng, weights, kinds))
	})
}
