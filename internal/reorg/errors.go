package reorg

import "fmt"

// ErrDepthExceeded is returned when Detect finds a mismatch deeper than the
// 100-block scan cap (spec §4.5 step 5: "fail hard (depth cap exceeded)").
type ErrDepthExceeded struct {
	Tail          uint64
	EarliestReorg uint64
}

func (e *ErrDepthExceeded) Error() string {
	return fmt.Sprintf("reorg depth exceeded: tail=%d earliest_reorg=%d depth=%d", e.Tail, e.EarliestReorg, e.Tail-e.EarliestReorg)
}

// ErrLockHeld is returned when Handle's non-blocking advisory-lock attempt
// loses to a concurrent fetch (spec §4.5 Handle step 1).
type ErrLockHeld struct {
	Schema  string
	ChainID uint64
}

func (e *ErrLockHeld) Error() string {
	return fmt.Sprintf("reorg advisory lock already held for schema=%s chain=%d", e.Schema, e.ChainID)
}

// ErrTargetCursorBeforeStart is returned when recovery would rewind the
// cursor below start_block-1 (spec §4.5 Handle step 2).
type ErrTargetCursorBeforeStart struct {
	TargetCursor uint64
	StartBlock   uint64
}

func (e *ErrTargetCursorBeforeStart) Error() string {
	return fmt.Sprintf("reorg recovery target cursor %d is before start_block-1 (%d)", e.TargetCursor, e.StartBlock-1)
}
