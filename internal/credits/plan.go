package credits

import (
	"fmt"

	"github.com/songlab/api/internal/model"
)

// PlanID identifies a subscription plan.
type PlanID string

const (
	PlanFree   PlanID = "FREE"
	PlanPro    PlanID = "PRO"
	PlanStudio PlanID = "STUDIO"
)

// Plan is the static configuration of one subscription tier. Immutable at
// runtime; the catalog is loaded once, process-wide.
type Plan struct {
	ID                      PlanID `json:"id"`
	Label                   string `json:"label"`
	Description             string `json:"description"`
	CreditsPerMonth         int    `json:"creditsPerMonth"`
	MaxAudioDurationSeconds int    `json:"maxAudioDurationSeconds"`
}

var catalog = map[PlanID]Plan{
	PlanFree: {
		ID:                      PlanFree,
		Label:                   "Free",
		Description:             "Get started with a few short tracks each month.",
		CreditsPerMonth:         10,
		MaxAudioDurationSeconds: 60,
	},
	PlanPro: {
		ID:                      PlanPro,
		Label:                   "Pro",
		Description:             "More credits and longer tracks for serious creators.",
		CreditsPerMonth:         50,
		MaxAudioDurationSeconds: 180,
	},
	PlanStudio: {
		ID:                      PlanStudio,
		Label:                   "Studio",
		Description:             "High limits and priority generation for studios.",
		CreditsPerMonth:         200,
		MaxAudioDurationSeconds: 240,
	},
}

// Lookup returns the plan definition for id, falling back to FREE for
// unknown identifiers so a stale plan column never breaks pricing.
func Lookup(id PlanID) Plan {
	if p, ok := catalog[id]; ok {
		return p
	}
	return catalog[PlanFree]
}

// Plans returns the full catalog in tier order.
func Plans() []Plan {
	return []Plan{catalog[PlanFree], catalog[PlanPro], catalog[PlanStudio]}
}

// EnforceDuration validates a requested duration against the plan ceiling.
// A request above the ceiling fails fast rather than being clamped; a nil
// request uses the ceiling as the effective duration.
func EnforceDuration(id PlanID, requestedSeconds *int) (int, error) {
	plan := Lookup(id)

	if requestedSeconds == nil {
		return plan.MaxAudioDurationSeconds, nil
	}
	if *requestedSeconds > plan.MaxAudioDurationSeconds {
		return 0, fmt.Errorf("%w: requested %ds, plan %s allows %ds",
			model.ErrDurationExceedsPlan, *requestedSeconds, plan.ID, plan.MaxAudioDurationSeconds)
	}
	return *requestedSeconds, nil
}
