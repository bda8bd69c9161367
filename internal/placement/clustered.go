package placement

import (
	"math"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/unrest/internal/entropy"
	"github.com/talgya/unrest/internal/world"
)

// Clustered samples a simplex noise field over the grid. Residents gather
// where the field is high and security where it is low, so both form
// neighborhoods instead of an even mix. Barricade obstacles are scattered
// over the remaining empty cells.
type Clustered struct {
	Octaves     int     // Default 3
	Frequency   float64 // Base frequency in cells; default 0.12
	Persistence float64 // Amplitude falloff per octave; default 0.5
}

func (cl Clustered) Populate(p Placer, rng *entropy.Stream, cfg Config) error {
	octaves, freq, pers := cl.Octaves, cl.Frequency, cl.Persistence
	if octaves <= 0 {
		octaves = 3
	}
	if freq <= 0 {
		freq = 0.12
	}
	if pers <= 0 {
		pers = 0.5
	}

	noise := opensimplex.NewNormalized(int64(rng.Intn(math.MaxInt32)))
	w, h := p.Width(), p.Height()
	field := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			field[y*w+x] = octaveNoise(noise, float64(x), float64(y), octaves, freq, pers)
		}
	}
	cut := quantile(field, 1-cfg.Ratio)

	err := eachCell(p, func(c world.Coord) error {
		if rng.Float() >= cfg.GridDensity {
			return nil
		}
		if field[c.Y*w+c.X] >= cut {
			return put(p, rng, cfg, c, KindResident)
		}
		return put(p, rng, cfg, c, KindSecurity)
	})
	if err != nil {
		return err
	}

	var empty []world.Coord
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if c := (world.Coord{X: x, Y: y}); p.IsEmpty(c) {
				empty = append(empty, c)
			}
		}
	}
	for i := 0; i < cfg.Barricade && len(empty) > 0; i++ {
		j := rng.Pick(len(empty))
		if err := put(p, rng, cfg, empty[j], KindObstacle); err != nil {
			return err
		}
		empty[j] = empty[len(empty)-1]
		empty = empty[:len(empty)-1]
	}
	return nil
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// quantile returns the value below which a share q of values fall. A share
// of 1 or more returns +Inf so nothing reaches the cut.
func quantile(values []float64, q float64) float64 {
	if q >= 1 {
		return math.Inf(1)
	}
	if q <= 0 || len(values) == 0 {
		return math.Inf(-1)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return sorted[int(q*float64(len(sorted)))]
}
