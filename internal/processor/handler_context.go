package processor

import (
	"database/sql"

	"github.com/drips-network/dripfeed/internal/eventdecoder"
)

// HandlerContext is the capability set a Handler receives when invoked
// from within a processing transaction (spec §4.6 step 3, §9 "Shared
// repository context → interface abstraction"). Domain repositories are
// not part of the core; they are expected to type-assert or wrap this
// interface with their own capability traits, each parameterized by the
// same (Tx, Schema) pair rather than ambient transaction state.
type HandlerContext interface {
	// Tx is the transaction every handler write must go through.
	Tx() *sql.Tx
	// Schema is the active database schema for this chain's tables.
	Schema() string
	// ChainID is the chain this event was fetched from.
	ChainID() uint64
	// Event is the raw event row being processed, including its event
	// pointer and block metadata.
	Event() EventMeta
	// VisibilityThresholdBlockNumber is an opaque capability flag the core
	// passes through without interpreting (spec §9 Open Questions: "Exact
	// visibility semantics ... treated as opaque by the core").
	VisibilityThresholdBlockNumber() *uint64
}

// EventMeta is the subset of a RawEvent a handler needs to know about
// itself: its pointer and block/transaction metadata. The processor leaves
// Decoded nil; handlers receive the decoded payload as the rawArgs JSON.
type EventMeta struct {
	ChainID         uint64
	BlockNumber     uint64
	TxIndex         uint32
	LogIndex        uint32
	BlockTimestamp  int64
	TransactionHash string
	ContractAddress string
	Decoded         eventdecoder.DecodedEvent
}

// handlerContext is the core's concrete HandlerContext implementation.
type handlerContext struct {
	tx                  *sql.Tx
	schema              string
	chainID             uint64
	event               EventMeta
	visibilityThreshold *uint64
}

func (h *handlerContext) Tx() *sql.Tx                             { return h.tx }
func (h *handlerContext) Schema() string                          { return h.schema }
func (h *handlerContext) ChainID() uint64                         { return h.chainID }
func (h *handlerContext) Event() EventMeta                        { return h.event }
func (h *handlerContext) VisibilityThresholdBlockNumber() *uint64 { return h.visibilityThreshold }
