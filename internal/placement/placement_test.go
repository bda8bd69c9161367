package placement

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/engine"
	"github.com/talgya/unrest/internal/world"
)

func newModel(t *testing.T, w, h int, seed int64) *engine.Model {
	t.Helper()
	p := engine.DefaultParams()
	p.Width, p.Height = w, h
	p.Seed = seed
	m, err := engine.NewModel(p, nil)
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	return m
}

func populate(t *testing.T, m *engine.Model, cfg Config) {
	t.Helper()
	if err := Populate(m, m.Rand(), cfg); err != nil {
		t.Fatalf("Populate failed: %v", err)
	}
}

func kindAt(m *engine.Model) map[world.Coord]agents.Kind {
	out := make(map[world.Coord]agents.Kind)
	for _, a := range m.Agents(nil) {
		out[a.Position] = a.Kind
	}
	return out
}

func count(m *engine.Model, k agents.Kind) int {
	return len(m.Agents(func(a *agents.Agent) bool { return a.Kind == k }))
}

func TestParseEnvironment(t *testing.T) {
	tests := map[string]Environment{
		"":                    EnvRandom,
		"Random distribution": EnvRandom,
		"Block in the middle": EnvBlockMiddle,
		"cops-middle":         EnvCopsMiddle,
		"Wall of cops":        EnvWall,
		"Street":              EnvStreet,
		"clustered":           EnvClustered,
	}
	for in, want := range tests {
		got, err := ParseEnvironment(in)
		if err != nil || got != want {
			t.Errorf("ParseEnvironment(%q): expected %s, got %s (%v)", in, want, got, err)
		}
	}
	if _, err := ParseEnvironment("moat"); !errors.Is(err, engine.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"density", func(c *Config) { c.GridDensity = 1.2 }},
		{"ratio", func(c *Config) { c.Ratio = -0.1 }},
		{"barricade", func(c *Config) { c.Barricade = -1 }},
		{"aggression", func(c *Config) { c.Aggression = 1 }},
		{"environment", func(c *Config) { c.Environment = "moat" }},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mod(&cfg)
		if err := cfg.Validate(); !errors.Is(err, engine.ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, got %v", tt.name, err)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestRandomMatchesShares(t *testing.T) {
	m := newModel(t, 40, 40, 7)
	cfg := DefaultConfig()
	populate(t, m, cfg)

	populated := 1600*cfg.GridDensity - float64(cfg.Barricade)
	wantResidents := populated * cfg.Ratio
	wantSecurity := populated - wantResidents

	if got := float64(count(m, agents.KindResident)); math.Abs(got-wantResidents) > 0.1*wantResidents {
		t.Errorf("expected about %.0f residents, got %.0f", wantResidents, got)
	}
	if got := float64(count(m, agents.KindSecurity)); math.Abs(got-wantSecurity) > 0.25*wantSecurity {
		t.Errorf("expected about %.0f security, got %.0f", wantSecurity, got)
	}
}

func TestRandomRejectsOversizedBarricade(t *testing.T) {
	m := newModel(t, 5, 5, 7)
	cfg := DefaultConfig()
	cfg.Barricade = 20
	if err := Populate(m, m.Rand(), cfg); !errors.Is(err, engine.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestSameSeedSameLayout(t *testing.T) {
	for _, env := range Environments {
		cfg := DefaultConfig()
		cfg.Environment = env
		a, b := newModel(t, 24, 24, 99), newModel(t, 24, 24, 99)
		populate(t, a, cfg)
		populate(t, b, cfg)
		if strings.Join(a.Layout(), "\n") != strings.Join(b.Layout(), "\n") {
			t.Errorf("%s: layouts differ for the same seed", env)
		}
	}
}

func TestFixedAggression(t *testing.T) {
	m := newModel(t, 10, 10, 3)
	cfg := DefaultConfig()
	cfg.Aggression = 0.25
	populate(t, m, cfg)
	for _, a := range m.Agents(func(a *agents.Agent) bool { return a.Kind == agents.KindResident }) {
		if a.Resident.Aggression != 0.25 {
			t.Fatalf("resident %d has aggression %g", a.ID, a.Resident.Aggression)
		}
	}
}

func TestBlockMiddle(t *testing.T) {
	m := newModel(t, 30, 30, 5)
	cfg := DefaultConfig()
	cfg.Environment = EnvBlockMiddle
	populate(t, m, cfg)

	kinds := kindAt(m)
	for y := 10; y <= 20; y++ {
		for x := 10; x <= 20; x++ {
			if kinds[world.Coord{X: x, Y: y}] != agents.KindObstacle {
				t.Fatalf("expected obstacle at (%d,%d)", x, y)
			}
		}
	}
	if got := count(m, agents.KindObstacle); got != 121 {
		t.Errorf("expected only the 11x11 block as obstacles, got %d", got)
	}
}

func TestCopsMiddle(t *testing.T) {
	m := newModel(t, 30, 30, 5)
	cfg := DefaultConfig()
	cfg.Environment = EnvCopsMiddle
	populate(t, m, cfg)

	for _, a := range m.Agents(func(a *agents.Agent) bool { return a.Kind == agents.KindSecurity }) {
		if a.Position.X < 10 || a.Position.X > 20 || a.Position.Y < 10 || a.Position.Y > 20 {
			t.Fatalf("security outside the middle square at %s", a.Position)
		}
	}
	if got := count(m, agents.KindSecurity); got != 121 {
		t.Errorf("expected 121 security agents, got %d", got)
	}
}

func TestWallFillsWesternColumn(t *testing.T) {
	m := newModel(t, 10, 10, 5)
	cfg := Config{Environment: EnvWall, GridDensity: 0.5, Ratio: 0.8, Aggression: -1}
	populate(t, m, cfg)

	kinds := kindAt(m)
	for y := 0; y < 10; y++ {
		if kinds[world.Coord{X: 0, Y: y}] != agents.KindSecurity {
			t.Errorf("expected security at (0,%d)", y)
		}
	}
	if got := count(m, agents.KindSecurity); got != 10 {
		t.Errorf("expected exactly 10 security agents, got %d", got)
	}
}

func TestStreetWalls(t *testing.T) {
	m := newModel(t, 12, 12, 5)
	cfg := DefaultConfig()
	cfg.Environment = EnvStreet
	populate(t, m, cfg)

	kinds := kindAt(m)
	isWall := func(x, y int) bool {
		return x <= 2 || x >= 10 || ((x == 6 || x == 7) && y >= 2 && y <= 10)
	}
	for y := 0; y < 12; y++ {
		for x := 0; x < 12; x++ {
			k, ok := kinds[world.Coord{X: x, Y: y}]
			if isWall(x, y) && (!ok || k != agents.KindObstacle) {
				t.Fatalf("expected obstacle at (%d,%d)", x, y)
			}
			if !isWall(x, y) && ok && k == agents.KindObstacle {
				t.Fatalf("unexpected obstacle in the street at (%d,%d)", x, y)
			}
		}
	}
}

func TestClusteredSplitsByNoise(t *testing.T) {
	m := newModel(t, 40, 40, 11)
	cfg := DefaultConfig()
	cfg.Environment = EnvClustered
	cfg.GridDensity = 1
	cfg.Barricade = 0
	populate(t, m, cfg)

	residents := count(m, agents.KindResident)
	security := count(m, agents.KindSecurity)
	if residents+security != 1600 {
		t.Fatalf("expected a full grid, got %d residents and %d security", residents, security)
	}
	if share := float64(residents) / 1600; math.Abs(share-cfg.Ratio) > 0.02 {
		t.Errorf("expected resident share near %g, got %g", cfg.Ratio, share)
	}
}

func TestClusteredScattersBarricade(t *testing.T) {
	m := newModel(t, 20, 20, 11)
	cfg := DefaultConfig()
	cfg.Environment = EnvClustered
	cfg.Barricade = 15
	populate(t, m, cfg)
	if got := count(m, agents.KindObstacle); got != 15 {
		t.Errorf("expected 15 obstacles, got %d", got)
	}
}

func TestQuantile(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3}
	if got := quantile(values, 0.4); got != 3 {
		t.Errorf("expected 3, got %g", got)
	}
	if !math.IsInf(quantile(values, 1), 1) || !math.IsInf(quantile(values, 0), -1) {
		t.Error("expected infinite cuts at the extremes")
	}
}
