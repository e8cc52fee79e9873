package domain

import (
	"fmt"

	"github.com/gammazero/deque"
)

type SyncStatus string

const (
	SyncStatus_Uninitialized  SyncStatus = "Uninitialized"
	SyncStatus_Synchronized   SyncStatus = "Synchronized"
	SyncStatus_Desynchronized SyncStatus = "Desynchronized"
)

type SyncOutcome int

const (
	// SyncOutcome_Buffered: no watermark yet, the delta was queued.
	SyncOutcome_Buffered SyncOutcome = iota
	// SyncOutcome_Applied: the delta covers watermark+1 and must be applied to the book.
	SyncOutcome_Applied
	// SyncOutcome_Stale: the delta is already covered by the book.
	SyncOutcome_Stale
	// SyncOutcome_Gap: updates were missed, the book must be rebuilt from a new snapshot.
	SyncOutcome_Gap
)

func (o SyncOutcome) String() string {
	switch o {
	case SyncOutcome_Buffered:
		return "buffered"
	case SyncOutcome_Applied:
		return "applied"
	case SyncOutcome_Stale:
		return "stale"
	case SyncOutcome_Gap:
		return "gap"
	}
	return fmt.Sprintf("SyncOutcome(%d)", int(o))
}

// SyncState decides what to do with each depth update relative to the last
// applied update id (the watermark).
//
// Drop any event where u <= lastUpdateId. The first processed event should
// have U <= lastUpdateId+1 AND u >= lastUpdateId+1, and every following one
// must keep that property. An event with U > lastUpdateId+1 means updates
// were lost; the state then stays desynchronized until Reset.
type SyncState struct {
	lastUpdateID uint64
	hasWatermark bool
	desynced     bool

	buffer deque.Deque[*DepthUpdate]
}

func NewSyncState() *SyncState {
	return &SyncState{}
}

// SetLastUpdateID installs the watermark, normally the lastUpdateId of a
// freshly fetched snapshot. Buffered deltas are kept; drain and replay them
// through ProcessDelta.
func (s *SyncState) SetLastUpdateID(lastUpdateID uint64) {
	s.lastUpdateID = lastUpdateID
	s.hasWatermark = true
}

// LastUpdateID returns the watermark and whether one is installed.
func (s *SyncState) LastUpdateID() (uint64, bool) {
	return s.lastUpdateID, s.hasWatermark
}

func (s *SyncState) Status() SyncStatus {
	switch {
	case s.desynced:
		return SyncStatus_Desynchronized
	case s.hasWatermark:
		return SyncStatus_Synchronized
	default:
		return SyncStatus_Uninitialized
	}
}

// ProcessDelta classifies update. Only a gap returns an error, wrapping
// ErrSequenceGap the first time and ErrDesynchronized afterwards.
func (s *SyncState) ProcessDelta(update *DepthUpdate) (SyncOutcome, error) {
	if s.desynced {
		return SyncOutcome_Gap, ErrDesynchronized
	}

	if !s.hasWatermark {
		s.buffer.PushBack(update)
		return SyncOutcome_Buffered, nil
	}

	next := s.lastUpdateID + 1

	if update.FinalUpdateID <= s.lastUpdateID {
		return SyncOutcome_Stale, nil
	}

	if update.FirstUpdateID <= next && next <= update.FinalUpdateID {
		s.buffer.Clear()
		s.lastUpdateID = update.FinalUpdateID
		return SyncOutcome_Applied, nil
	}

	// here FinalUpdateID > lastUpdateID and the admission window was missed,
	// so FirstUpdateID > lastUpdateID+1
	s.desynced = true
	s.buffer.Clear()
	return SyncOutcome_Gap, &SequenceGapError{Expected: next, Got: update.FirstUpdateID}
}

// DrainBuffer removes and returns buffered deltas in arrival order.
func (s *SyncState) DrainBuffer() []*DepthUpdate {
	drained := make([]*DepthUpdate, 0, s.buffer.Len())
	for s.buffer.Len() > 0 {
		drained = append(drained, s.buffer.PopFront())
	}

	return drained
}

func (s *SyncState) BufferLen() int {
	return s.buffer.Len()
}

// Reset returns the state to Uninitialized with an empty buffer.
func (s *SyncState) Reset() {
	s.lastUpdateID = 0
	s.hasWatermark = false
	s.desynced = false
	s.buffer.Clear()
}
