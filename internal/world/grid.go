package world

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMove is returned when a move targets an occupied or
	// off-grid cell. Moves are rejected, never clamped.
	ErrInvalidMove = errors.New("invalid move")

	// ErrInvariantViolation marks a programming error such as placing onto
	// an occupied cell or moving out of an empty one.
	ErrInvariantViolation = errors.New("grid invariant violation")
)

// Grid is a fixed-size lattice where each cell holds at most one occupant.
// The zero value of T means "empty", so T is normally a pointer type.
// With wrap enabled the lattice is a torus and coordinates are taken modulo
// its extent; otherwise off-grid coordinates do not exist.
type Grid[T comparable] struct {
	width, height int
	wrap          bool
	cells         []T
	occupied      int
}

// NewGrid creates an empty lattice. Both dimensions must be positive.
func NewGrid[T comparable](width, height int, wrap bool) (*Grid[T], error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("grid %dx%d has no area", width, height)
	}
	return &Grid[T]{
		width:  width,
		height: height,
		wrap:   wrap,
		cells:  make([]T, width*height),
	}, nil
}

func (g *Grid[T]) Width() int  { return g.width }
func (g *Grid[T]) Height() int { return g.height }
func (g *Grid[T]) Wrap() bool  { return g.wrap }

// Size returns the total number of cells.
func (g *Grid[T]) Size() int { return len(g.cells) }

// Occupied returns the number of non-empty cells.
func (g *Grid[T]) Occupied() int { return g.occupied }

// Free returns the number of empty cells.
func (g *Grid[T]) Free() int { return len(g.cells) - g.occupied }

// Normalize maps c onto the lattice. Under wrap every coordinate is valid;
// otherwise ok is false for coordinates outside the bounds.
func (g *Grid[T]) Normalize(c Coord) (Coord, bool) {
	if g.wrap {
		return Coord{X: mod(c.X, g.width), Y: mod(c.Y, g.height)}, true
	}
	return c, g.InBounds(c)
}

// InBounds reports whether c lies inside the lattice without wrapping.
func (g *Grid[T]) InBounds(c Coord) bool {
	return c.X >= 0 && c.X < g.width && c.Y >= 0 && c.Y < g.height
}

// Step returns the cell one unit from c in direction d.
func (g *Grid[T]) Step(c Coord, d Direction) (Coord, bool) {
	dx, dy := d.Offset()
	return g.Normalize(Coord{X: c.X + dx, Y: c.Y + dy})
}

func (g *Grid[T]) index(c Coord) (int, bool) {
	n, ok := g.Normalize(c)
	if !ok {
		return 0, false
	}
	return n.Y*g.width + n.X, true
}

// Occupant returns the occupant of c, if any.
func (g *Grid[T]) Occupant(c Coord) (T, bool) {
	var zero T
	i, ok := g.index(c)
	if !ok {
		return zero, false
	}
	v := g.cells[i]
	return v, v != zero
}

// IsEmpty reports whether c is on the lattice and unoccupied.
func (g *Grid[T]) IsEmpty(c Coord) bool {
	var zero T
	i, ok := g.index(c)
	return ok && g.cells[i] == zero
}

// Place puts v into the empty cell c.
func (g *Grid[T]) Place(c Coord, v T) error {
	var zero T
	if v == zero {
		return fmt.Errorf("%w: placing empty value at %s", ErrInvariantViolation, c)
	}
	i, ok := g.index(c)
	if !ok {
		return fmt.Errorf("%w: %s is off the grid", ErrInvariantViolation, c)
	}
	if g.cells[i] != zero {
		return fmt.Errorf("%w: %s already occupied", ErrInvariantViolation, c)
	}
	g.cells[i] = v
	g.occupied++
	return nil
}

// Remove empties c and returns what was there.
func (g *Grid[T]) Remove(c Coord) (T, bool) {
	var zero T
	i, ok := g.index(c)
	if !ok || g.cells[i] == zero {
		return zero, false
	}
	v := g.cells[i]
	g.cells[i] = zero
	g.occupied--
	return v, true
}

// Move relocates the occupant of from into the empty cell to and returns
// the normalized destination.
func (g *Grid[T]) Move(from, to Coord) (Coord, error) {
	var zero T
	src, ok := g.index(from)
	if !ok || g.cells[src] == zero {
		return from, fmt.Errorf("%w: nothing to move at %s", ErrInvariantViolation, from)
	}
	dest, ok := g.Normalize(to)
	if !ok {
		return from, fmt.Errorf("%w: %s is off the grid", ErrInvalidMove, to)
	}
	dst := dest.Y*g.width + dest.X
	if dst == src {
		return dest, nil
	}
	if g.cells[dst] != zero {
		return from, fmt.Errorf("%w: %s is occupied", ErrInvalidMove, dest)
	}
	g.cells[dst] = g.cells[src]
	g.cells[src] = zero
	return dest, nil
}

// Neighbors returns the von Neumann neighborhood of c: every distinct cell
// within Manhattan distance radius, excluding c itself. Near a bounded edge
// the neighborhood is clipped; on a torus smaller than the neighborhood,
// cells reached twice are reported once. Order is deterministic.
func (g *Grid[T]) Neighbors(c Coord, radius int) []Coord {
	if radius <= 0 {
		return nil
	}
	center, ok := g.Normalize(c)
	if !ok {
		return nil
	}
	var seen map[Coord]bool
	if g.wrap && (2*radius+1 > g.width || 2*radius+1 > g.height) {
		seen = map[Coord]bool{center: true}
	}

	out := make([]Coord, 0, 2*radius*(radius+1))
	for dy := -radius; dy <= radius; dy++ {
		span := radius - abs(dy)
		for dx := -span; dx <= span; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n, ok := g.Normalize(Coord{X: center.X + dx, Y: center.Y + dy})
			if !ok {
				continue
			}
			if seen != nil {
				if seen[n] {
					continue
				}
				seen[n] = true
			}
			out = append(out, n)
		}
	}
	return out
}

// EmptyNeighbors filters Neighbors down to unoccupied cells.
func (g *Grid[T]) EmptyNeighbors(c Coord, radius int) []Coord {
	var out []Coord
	for _, n := range g.Neighbors(c, radius) {
		if g.IsEmpty(n) {
			out = append(out, n)
		}
	}
	return out
}

// Delta returns the displacement from a to b. On a torus each axis takes
// the shorter way around.
func (g *Grid[T]) Delta(a, b Coord) (dx, dy int) {
	dx, dy = b.X-a.X, b.Y-a.Y
	if g.wrap {
		dx = shortest(dx, g.width)
		dy = shortest(dy, g.height)
	}
	return dx, dy
}

// Distance is the Manhattan length of Delta.
func (g *Grid[T]) Distance(a, b Coord) int {
	dx, dy := g.Delta(a, b)
	return abs(dx) + abs(dy)
}

// Each calls fn for every occupied cell in row-major order.
func (g *Grid[T]) Each(fn func(Coord, T)) {
	var zero T
	for i, v := range g.cells {
		if v == zero {
			continue
		}
		fn(Coord{X: i % g.width, Y: i / g.width}, v)
	}
}

func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}

func shortest(d, n int) int {
	d = mod(d, n)
	if d > n/2 {
		d -= n
	}
	return d
}
