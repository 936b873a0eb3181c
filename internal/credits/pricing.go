// Package credits holds the plan catalog and the credit pricing function.
// Everything here is pure and deterministic so the same code backs both
// the admission step of a workflow and UI cost previews.
package credits

import (
	"math"

	"github.com/songlab/api/internal/model"
)

const baseCost = 1

// DurationFactor is a step function of the requested audio duration.
// Durations above the owning plan's ceiling are rejected before pricing,
// so the cap at 3 is never a silent upgrade.
func DurationFactor(audioDurationSeconds int) float64 {
	switch {
	case audioDurationSeconds <= 60:
		return 1
	case audioDurationSeconds <= 180:
		return 2
	case audioDurationSeconds <= 240:
		return 3
	default:
		return 3
	}
}

// ModeFactor prices the generation mode.
func ModeFactor(mode model.GenerationMode) float64 {
	switch mode {
	case model.ModePromptWithLyrics:
		return 1.2
	case model.ModePromptWithDescribedLyrics:
		return 1.4
	default:
		return 1.0
	}
}

// PlanFactor discounts paid plans.
func PlanFactor(plan PlanID) float64 {
	switch plan {
	case PlanPro:
		return 0.8
	case PlanStudio:
		return 0.6
	default:
		return 1.0
	}
}

// Calculate returns the integer credit cost of a generation, always >= 1.
func Calculate(durationSeconds int, mode model.GenerationMode, plan PlanID) int {
	raw := baseCost * DurationFactor(durationSeconds) * ModeFactor(mode) * PlanFactor(plan)

	cost := int(math.Ceil(raw))
	if cost < 1 {
		cost = 1
	}
	return cost
}
