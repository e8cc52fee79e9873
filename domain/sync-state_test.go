package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncState_BuffersWithoutWatermark(t *testing.T) {
	s := NewSyncState()
	assert.Equal(t, SyncStatus_Uninitialized, s.Status())

	for i := uint64(1); i <= 3; i++ {
		outcome, err := s.ProcessDelta(NewDepthUpdate(i*10, i*10+9, nil, nil))
		require.NoError(t, err)
		assert.Equal(t, SyncOutcome_Buffered, outcome)
	}

	assert.Equal(t, 3, s.BufferLen())

	drained := s.DrainBuffer()
	require.Len(t, drained, 3)
	assert.Equal(t, uint64(10), drained[0].FirstUpdateID, "arrival order is preserved")
	assert.Equal(t, uint64(30), drained[2].FirstUpdateID, "arrival order is preserved")
	assert.Equal(t, 0, s.BufferLen())
	assert.Empty(t, s.DrainBuffer())
}

func TestSyncState_Classification(t *testing.T) {
	tests := []struct {
		name          string
		first, final  uint64
		outcome       SyncOutcome
		lastUpdateID  uint64
		expectedError error
	}{
		{"AdmitOverlapping", 95, 105, SyncOutcome_Applied, 105, nil},
		{"AdmitExact", 101, 101, SyncOutcome_Applied, 101, nil},
		{"AdmitStartingAtWatermark", 100, 110, SyncOutcome_Applied, 110, nil},
		{"StaleBelow", 90, 99, SyncOutcome_Stale, 100, nil},
		{"StaleEqual", 100, 100, SyncOutcome_Stale, 100, nil},
		{"Gap", 102, 110, SyncOutcome_Gap, 100, ErrSequenceGap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSyncState()
			s.SetLastUpdateID(100)

			outcome, err := s.ProcessDelta(NewDepthUpdate(tt.first, tt.final, nil, nil))

			assert.Equal(t, tt.outcome, outcome)
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}

			w, ok := s.LastUpdateID()
			assert.True(t, ok)
			assert.Equal(t, tt.lastUpdateID, w)
		})
	}
}

func TestSyncState_GapIsTerminal(t *testing.T) {
	s := NewSyncState()
	s.SetLastUpdateID(100)

	outcome, err := s.ProcessDelta(NewDepthUpdate(102, 103, nil, nil))
	assert.Equal(t, SyncOutcome_Gap, outcome)

	var gapErr *SequenceGapError
	require.ErrorAs(t, err, &gapErr)
	assert.Equal(t, uint64(101), gapErr.Expected)
	assert.Equal(t, uint64(102), gapErr.Got)
	assert.Equal(t, SyncStatus_Desynchronized, s.Status())

	// even an otherwise admissible delta is refused now
	outcome, err = s.ProcessDelta(NewDepthUpdate(101, 101, nil, nil))
	assert.Equal(t, SyncOutcome_Gap, outcome)
	assert.ErrorIs(t, err, ErrDesynchronized)

	// installing a watermark does not revive a desynchronized state
	s.SetLastUpdateID(500)
	assert.Equal(t, SyncStatus_Desynchronized, s.Status())

	s.Reset()
	assert.Equal(t, SyncStatus_Uninitialized, s.Status())
	_, ok := s.LastUpdateID()
	assert.False(t, ok)
}

func TestSyncState_SequentialStream(t *testing.T) {
	s := NewSyncState()
	s.SetLastUpdateID(100)

	updates := []struct {
		first, final uint64
		outcome      SyncOutcome
	}{
		{90, 100, SyncOutcome_Stale},
		{98, 104, SyncOutcome_Applied},
		{105, 105, SyncOutcome_Applied},
		{103, 105, SyncOutcome_Stale}, // duplicate delivery
		{106, 120, SyncOutcome_Applied},
	}

	for _, u := range updates {
		outcome, err := s.ProcessDelta(NewDepthUpdate(u.first, u.final, nil, nil))
		require.NoError(t, err)
		assert.Equal(t, u.outcome, outcome, "U=%d u=%d", u.first, u.final)
	}

	w, _ := s.LastUpdateID()
	assert.Equal(t, uint64(120), w)
	assert.Equal(t, SyncStatus_Synchronized, s.Status())
}

func TestSyncState_ReplayBufferAfterWatermark(t *testing.T) {
	s := NewSyncState()

	for _, r := range [][2]uint64{{90, 95}, {96, 99}, {100, 103}, {104, 108}} {
		outcome, err := s.ProcessDelta(NewDepthUpdate(r[0], r[1], nil, nil))
		require.NoError(t, err)
		require.Equal(t, SyncOutcome_Buffered, outcome)
	}

	// snapshot arrives with lastUpdateId=101
	s.SetLastUpdateID(101)

	var outcomes []SyncOutcome
	for _, u := range s.DrainBuffer() {
		outcome, err := s.ProcessDelta(u)
		require.NoError(t, err)
		outcomes = append(outcomes, outcome)
	}

	assert.Equal(t, []SyncOutcome{SyncOutcome_Stale, SyncOutcome_Stale, SyncOutcome_Applied, SyncOutcome_Applied}, outcomes)
	w, _ := s.LastUpdateID()
	assert.Equal(t, uint64(108), w)
}

func TestSyncState_AdmissionClearsBuffer(t *testing.T) {
	s := NewSyncState()
	_, _ = s.ProcessDelta(NewDepthUpdate(1, 5, nil, nil))
	_, _ = s.ProcessDelta(NewDepthUpdate(6, 9, nil, nil))
	s.SetLastUpdateID(4)

	outcome, err := s.ProcessDelta(NewDepthUpdate(5, 10, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, SyncOutcome_Applied, outcome)
	assert.Equal(t, 0, s.BufferLen())
}

func TestSyncOutcome_String(t *testing.T) {
	assert.Equal(t, "applied", SyncOutcome_Applied.String())
	assert.Equal(t, "gap", SyncOutcome_Gap.String())
	assert.Equal(t, "SyncOutcome(42)", SyncOutcome(42).String())
}
