package faceprofile

import (
	"fmt"

	"github.com/your-org/faceprofiles/internal/models"
)

// PrimaryState describes a user's active profiles within one company.
type PrimaryState int

const (
	NoProfiles PrimaryState = iota
	HasNonPrimaryOnly
	HasExactlyOnePrimary
)

func (s PrimaryState) String() string {
	switch s {
	case NoProfiles:
		return "no_profiles"
	case HasNonPrimaryOnly:
		return "non_primary_only"
	case HasExactlyOnePrimary:
		return "exactly_one_primary"
	default:
		return fmt.Sprintf("PrimaryState(%d)", int(s))
	}
}

// StateOf classifies active profiles. More than one primary is reported as
// an error and never repaired here.
func StateOf(active []models.FaceProfile) (PrimaryState, error) {
	if len(active) == 0 {
		return NoProfiles, nil
	}
	primaries := 0
	for i := range active {
		if active[i].IsPrimary {
			primaries++
		}
	}
	switch primaries {
	case 0:
		return HasNonPrimaryOnly, nil
	case 1:
		return HasExactlyOnePrimary, nil
	default:
		return HasExactlyOnePrimary, fmt.Errorf("user has %d active primary profiles", primaries)
	}
}

// PrimaryAction is the storage mutation a primary transition needs.
type PrimaryAction int

const (
	// ActionNone leaves every row untouched.
	ActionNone PrimaryAction = iota
	// ActionPromote clears the user's current primary, then flags the target.
	ActionPromote
	// ActionDemote clears the flag on the target only.
	ActionDemote
)

// PlanEnroll returns the action for inserting a new profile.
func PlanEnroll(makePrimary bool) PrimaryAction {
	if makePrimary {
		return ActionPromote
	}
	return ActionNone
}

// PlanSetPrimary decides an explicit set-primary request. activePrimaries must
// be counted in the same transaction that applies the returned action.
func PlanSetPrimary(target *models.FaceProfile, activePrimaries int, value bool) (PrimaryAction, error) {
	if target == nil || !target.Active() {
		return ActionNone, NotFound("face profile")
	}
	if value {
		if target.IsPrimary {
			return ActionNone, nil
		}
		return ActionPromote, nil
	}

	if !target.IsPrimary {
		return ActionNone, nil
	}
	if activePrimaries <= 1 {
		return ActionNone, newError(KindCannotUnsetLastPrimary,
			"a user with active profiles must keep one primary; delete the profile instead")
	}
	return ActionDemote, nil
}
