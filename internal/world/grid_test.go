package world

import (
	"errors"
	"testing"
)

type token struct{ id int }

func newTestGrid(t *testing.T, w, h int, wrap bool) *Grid[*token] {
	t.Helper()
	g, err := NewGrid[*token](w, h, wrap)
	if err != nil {
		t.Fatalf("NewGrid failed: %v", err)
	}
	return g
}

func TestNewGridRejectsZeroArea(t *testing.T) {
	for _, dims := range [][2]int{{0, 5}, {5, 0}, {-1, 3}} {
		if _, err := NewGrid[*token](dims[0], dims[1], false); err == nil {
			t.Errorf("expected error for %dx%d grid", dims[0], dims[1])
		}
	}
}

func TestNeighborsBoundedClipsAtEdges(t *testing.T) {
	g := newTestGrid(t, 5, 5, false)

	tests := []struct {
		name   string
		pos    Coord
		radius int
		want   int
	}{
		{"center radius 1", Coord{2, 2}, 1, 4},
		{"corner radius 1", Coord{0, 0}, 1, 2},
		{"edge radius 1", Coord{0, 2}, 1, 3},
		{"center radius 2", Coord{2, 2}, 2, 12},
		{"corner radius 2", Coord{0, 0}, 2, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.Neighbors(tt.pos, tt.radius)
			if len(got) != tt.want {
				t.Errorf("expected %d neighbors, got %d (%v)", tt.want, len(got), got)
			}
			for _, n := range got {
				if n == tt.pos {
					t.Errorf("neighborhood includes its center %s", n)
				}
			}
		})
	}
}

func TestNeighborsWrapKeepsFullNeighborhood(t *testing.T) {
	g := newTestGrid(t, 5, 5, true)

	got := g.Neighbors(Coord{0, 0}, 1)
	want := map[Coord]bool{{0, 1}: true, {1, 0}: true, {0, 4}: true, {4, 0}: true}
	if len(got) != len(want) {
		t.Fatalf("expected %d neighbors, got %d (%v)", len(want), len(got), got)
	}
	for _, n := range got {
		if !want[n] {
			t.Errorf("unexpected neighbor %s", n)
		}
	}
}

func TestNeighborsWrapDeduplicatesOnSmallTorus(t *testing.T) {
	g := newTestGrid(t, 2, 2, true)

	got := g.Neighbors(Coord{0, 0}, 1)
	if len(got) != 2 {
		t.Fatalf("expected 2 distinct neighbors on a 2x2 torus, got %v", got)
	}
}

func TestPlaceRejectsOccupiedCell(t *testing.T) {
	g := newTestGrid(t, 3, 3, false)

	if err := g.Place(Coord{1, 1}, &token{1}); err != nil {
		t.Fatalf("first Place failed: %v", err)
	}
	err := g.Place(Coord{1, 1}, &token{2})
	if !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("expected ErrInvariantViolation, got %v", err)
	}
	if g.Occupied() != 1 || g.Free() != 8 {
		t.Errorf("expected 1 occupied / 8 free, got %d / %d", g.Occupied(), g.Free())
	}
}

func TestMoveRejectsOccupiedAndOffGrid(t *testing.T) {
	g := newTestGrid(t, 3, 3, false)
	a, b := &token{1}, &token{2}
	g.Place(Coord{0, 0}, a)
	g.Place(Coord{1, 0}, b)

	if _, err := g.Move(Coord{0, 0}, Coord{1, 0}); !errors.Is(err, ErrInvalidMove) {
		t.Errorf("expected ErrInvalidMove into occupied cell, got %v", err)
	}
	if _, err := g.Move(Coord{0, 0}, Coord{-1, 0}); !errors.Is(err, ErrInvalidMove) {
		t.Errorf("expected ErrInvalidMove off the grid, got %v", err)
	}
	if occ, _ := g.Occupant(Coord{0, 0}); occ != a {
		t.Error("rejected move must leave the occupant in place")
	}
	if _, err := g.Move(Coord{2, 2}, Coord{2, 1}); !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("expected ErrInvariantViolation moving from empty cell, got %v", err)
	}
}

func TestMoveWrapsLeftEdgeToLastColumn(t *testing.T) {
	g := newTestGrid(t, 6, 4, true)
	a := &token{1}
	g.Place(Coord{0, 2}, a)

	left, ok := g.Step(Coord{0, 2}, West)
	if !ok {
		t.Fatal("expected West step to stay on a torus")
	}
	dest, err := g.Move(Coord{0, 2}, left)
	if err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if dest != (Coord{5, 2}) {
		t.Errorf("expected to land at (5,2), got %s", dest)
	}
	if occ, ok := g.Occupant(Coord{5, 2}); !ok || occ != a {
		t.Error("expected occupant at the last column")
	}
	if !g.IsEmpty(Coord{0, 2}) {
		t.Error("expected origin to be empty after move")
	}
}

func TestStepBoundedLeavesGrid(t *testing.T) {
	g := newTestGrid(t, 6, 4, false)
	if _, ok := g.Step(Coord{0, 2}, West); ok {
		t.Error("expected West step from column 0 to leave a bounded grid")
	}
}

func TestDeltaTakesShortestWayAround(t *testing.T) {
	g := newTestGrid(t, 10, 10, true)
	dx, dy := g.Delta(Coord{1, 1}, Coord{9, 2})
	if dx != -2 || dy != 1 {
		t.Errorf("expected (-2,1), got (%d,%d)", dx, dy)
	}

	b := newTestGrid(t, 10, 10, false)
	dx, _ = b.Delta(Coord{1, 1}, Coord{9, 2})
	if dx != 8 {
		t.Errorf("expected 8 on a bounded grid, got %d", dx)
	}
}

func TestEachVisitsRowMajor(t *testing.T) {
	g := newTestGrid(t, 3, 3, false)
	g.Place(Coord{2, 0}, &token{1})
	g.Place(Coord{0, 1}, &token{2})

	var seen []int
	g.Each(func(_ Coord, v *token) { seen = append(seen, v.id) })
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("expected [1 2], got %v", seen)
	}
}

func TestParseDirection(t *testing.T) {
	tests := map[string]Direction{"north": North, "e": East, "south": South, "w": West}
	for in, want := range tests {
		if got, ok := ParseDirection(in); !ok || got != want {
			t.Errorf("ParseDirection(%q) = %v, %v; expected %v", in, got, ok, want)
		}
	}
	for _, in := range []string{"up", "right", "down", "left", ""} {
		if _, ok := ParseDirection(in); ok {
			t.Errorf("expected %q to be rejected", in)
		}
	}
}
