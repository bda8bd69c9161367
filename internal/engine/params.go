package engine

import (
	"errors"
	"fmt"

	"github.com/talgya/unrest/internal/agents"
)

var (
	// ErrConfiguration is returned for parameters the model cannot run with.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrStopped is returned when stepping a model that has halted.
	ErrStopped = errors.New("model stopped")
)

// Params are the model-level options. Placement options live with the
// placement strategies.
type Params struct {
	Height int  `json:"height"`
	Width  int  `json:"width"`
	Wrap   bool `json:"wrap"`

	JailCapacity       int     `json:"jail_capacity"`
	Legitimacy         float64 `json:"legitimacy"` // Carried for reporting; the transition rule does not read it
	ArrestProbConstant float64 `json:"arrest_prob_constant"`
	ActiveThreshold    float64 `json:"active_threshold"`

	CitizenVision int `json:"citizen_vision"`
	CopVision     int `json:"cop_vision"`

	Movement      bool                 `json:"movement"`
	DirectionBias agents.DirectionBias `json:"direction_bias"`

	MaxIters uint64 `json:"max_iters"`
	Seed     int64  `json:"seed"` // 0 draws a random seed
}

// DefaultParams returns the stock 40x40 toroidal configuration.
func DefaultParams() Params {
	return Params{
		Height:             40,
		Width:              40,
		Wrap:               true,
		JailCapacity:       50,
		Legitimacy:         0.8,
		ArrestProbConstant: 2.3,
		ActiveThreshold:    0.9,
		CitizenVision:      7,
		CopVision:          7,
		Movement:           true,
		DirectionBias:      agents.DirectionBias{Mode: agents.BiasRandom},
		MaxIters:           1000,
	}
}

// Validate fails fast on parameters the model cannot honor.
func (p Params) Validate() error {
	switch {
	case p.Height <= 0 || p.Width <= 0:
		return fmt.Errorf("%w: grid %dx%d has no area", ErrConfiguration, p.Width, p.Height)
	case p.JailCapacity < 0:
		return fmt.Errorf("%w: negative jail capacity %d", ErrConfiguration, p.JailCapacity)
	case p.ArrestProbConstant < 0:
		return fmt.Errorf("%w: negative arrest probability constant %g", ErrConfiguration, p.ArrestProbConstant)
	case p.ActiveThreshold < 0:
		return fmt.Errorf("%w: negative active threshold %g", ErrConfiguration, p.ActiveThreshold)
	case p.Legitimacy < 0 || p.Legitimacy > 1:
		return fmt.Errorf("%w: legitimacy %g outside [0,1]", ErrConfiguration, p.Legitimacy)
	case p.CitizenVision < 1 || p.CopVision < 1:
		return fmt.Errorf("%w: vision must be at least 1", ErrConfiguration)
	}
	return nil
}
