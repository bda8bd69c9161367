// Package world provides the square lattice the simulation runs on.
// Coordinates are (x, y) with x the column and y the row; y grows northward.
package world

import "fmt"

// Coord is a cell position on the lattice.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Direction is one of the four von Neumann headings.
type Direction uint8

const (
	North Direction = iota
	East
	South
	West
)

// Directions lists the headings in the order neighborhoods are walked.
var Directions = [4]Direction{North, East, South, West}

// Offset returns the unit step for the heading.
func (d Direction) Offset() (dx, dy int) {
	switch d {
	case North:
		return 0, 1
	case East:
		return 1, 0
	case South:
		return 0, -1
	case West:
		return -1, 0
	default:
		return 0, 0
	}
}

func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case East:
		return "east"
	case South:
		return "south"
	case West:
		return "west"
	default:
		return "unknown"
	}
}

// ParseDirection maps a compass name (or its first letter) to a Direction.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "north", "n":
		return North, true
	case "east", "e":
		return East, true
	case "south", "s":
		return South, true
	case "west", "w":
		return West, true
	}
	return 0, false
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
