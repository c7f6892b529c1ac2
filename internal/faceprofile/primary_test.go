package faceprofile

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceprofiles/internal/models"
)

func profile(primary bool) models.FaceProfile {
	return models.FaceProfile{ID: uuid.New(), UserID: uuid.New(), CompanyID: uuid.New(), IsPrimary: primary}
}

func TestStateOf(t *testing.T) {
	state, err := StateOf(nil)
	require.NoError(t, err)
	assert.Equal(t, NoProfiles, state)

	state, err = StateOf([]models.FaceProfile{profile(false), profile(false)})
	require.NoError(t, err)
	assert.Equal(t, HasNonPrimaryOnly, state)

	state, err = StateOf([]models.FaceProfile{profile(false), profile(true)})
	require.NoError(t, err)
	assert.Equal(t, HasExactlyOnePrimary, state)

	_, err = StateOf([]models.FaceProfile{profile(true), profile(true)})
	assert.Error(t, err)
}

func TestPlanEnroll(t *testing.T) {
	assert.Equal(t, ActionPromote, PlanEnroll(true))
	assert.Equal(t, ActionNone, PlanEnroll(false))
}

func TestPlanSetPrimary(t *testing.T) {
	primary := profile(true)
	secondary := profile(false)
	deleted := profile(false)
	now := time.Now()
	deleted.DeletedAt = &now

	tests := []struct {
		name      string
		target    *models.FaceProfile
		primaries int
		value     bool
		want      PrimaryAction
		wantErr   error
	}{
		{name: "promote non-primary", target: &secondary, primaries: 1, value: true, want: ActionPromote},
		{name: "promote when none primary", target: &secondary, primaries: 0, value: true, want: ActionPromote},
		{name: "promote already primary is idempotent", target: &primary, primaries: 1, value: true, want: ActionNone},
		{name: "unset sole primary is refused", target: &primary, primaries: 1, value: false, wantErr: ErrCannotUnsetLastPrimary},
		{name: "unset primary with legacy duplicate", target: &primary, primaries: 2, value: false, want: ActionDemote},
		{name: "unset non-primary is a no-op", target: &secondary, primaries: 1, value: false, want: ActionNone},
		{name: "deleted target", target: &deleted, primaries: 1, value: true, wantErr: ErrNotFound},
		{name: "missing target", target: nil, primaries: 0, value: true, wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PlanSetPrimary(tt.target, tt.primaries, tt.value)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Equal(t, ActionNone, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
