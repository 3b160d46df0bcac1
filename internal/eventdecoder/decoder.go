// Package eventdecoder is a pure mapping from (contract_address, topics,
// data) to a decoded domain event or one of three documented skip
// outcomes (spec §4.3).
package eventdecoder

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// OutcomeKind tags which variant of Outcome is populated.
type OutcomeKind int

const (
	// Decoded means a handler existed and ABI decode succeeded.
	Decoded OutcomeKind = iota
	// MissingHandler means the ABI is known but no handler was registered
	// for this event name.
	MissingHandler
	// DecodeError means the log was truly malformed against the ABI.
	DecodeError
	// MissingFields means the log lacked the topics/data the event requires.
	MissingFields
)

// Outcome is the tagged union returned by Decode (spec §4.3).
type Outcome struct {
	Kind      OutcomeKind
	Event     DecodedEvent // set iff Kind == Decoded
	EventName string       // set for MissingHandler
	Reason    string       // set for DecodeError/MissingFields
	Err       error        // set for DecodeError
}

// DecodedEvent is the sum-type payload of a successfully decoded log; each
// Handler's Decode implementation returns a value implementing this
// interface (spec §9 "Polymorphic events → tagged variants").
type DecodedEvent interface {
	// EventName identifies which variant this is, matching the name used
	// at registration time.
	EventName() string
}

// Handler decodes one specific event's topics/data into a DecodedEvent.
// Implementations live alongside the domain package that consumes the
// result, registered against the decoder at startup.
type Handler interface {
	// Decode unpacks a raw log already known to match this handler's
	// event signature. Returning an error is treated as DecodeError.
	Decode(log ethtypes.Log) (DecodedEvent, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(log ethtypes.Log) (DecodedEvent, error)

func (f HandlerFunc) Decode(log ethtypes.Log) (DecodedEvent, error) { return f(log) }

type contractBinding struct {
	abi abi.ABI
}

// Decoder resolves logs from a fixed set of registered contracts to
// handlers keyed by (address, event name).
type Decoder struct {
	mu        sync.RWMutex
	contracts map[common.Address]contractBinding
	handlers  map[common.Address]map[string]Handler
}

// NewDecoder returns an empty Decoder; contracts and handlers are
// registered before the indexer starts fetching.
func NewDecoder() *Decoder {
	return &Decoder{
		contracts: make(map[common.Address]contractBinding),
		handlers:  make(map[common.Address]map[string]Handler),
	}
}

// RegisterContract associates an ABI with an address so its logs can be
// matched to event names by topic0.
func (d *Decoder) RegisterContract(address common.Address, contractABI abi.ABI) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contracts[address] = contractBinding{abi: contractABI}
}

// RegisterHandler wires a Handler for (address, eventName). Must be called
// after RegisterContract for that address.
func (d *Decoder) RegisterHandler(address common.Address, eventName string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers[address] == nil {
		d.handlers[address] = make(map[string]Handler)
	}
	d.handlers[address][eventName] = handler
}

// ContractAddresses returns every address with a registered ABI, the set
// BlockFetcher passes to get_logs (spec §4.3).
func (d *Decoder) ContractAddresses() []common.Address {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]common.Address, 0, len(d.contracts))
	for addr := range d.contracts {
		out = append(out, addr)
	}
	return out
}

// ResolveHandler returns the handler registered for (address, eventName),
// or nil if none was registered.
func (d *Decoder) ResolveHandler(address common.Address, eventName string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[address][eventName]
}

// Decode maps a single log to an Outcome (spec §4.3). The log's
// log.Address must be one of ContractAddresses(); logs from unregistered
// contracts should never reach the decoder (the fetcher only queries
// registered addresses).
func (d *Decoder) Decode(log ethtypes.Log) Outcome {
	if len(log.Topics) == 0 {
		return Outcome{Kind: MissingFields, Reason: "log has no topics"}
	}

	d.mu.RLock()
	binding, known := d.contracts[log.Address]
	d.mu.RUnlock()
	if !known {
		return Outcome{Kind: DecodeError, Reason: "unregistered contract address", Err: fmt.Errorf("no ABI registered for %s", log.Address.Hex())}
	}

	event, err := binding.abi.EventByID(log.Topics[0])
	if err != nil {
		return Outcome{Kind: DecodeError, Reason: "unrecognized event signature", Err: err}
	}

	handler := d.ResolveHandler(log.Address, event.Name)
	if handler == nil {
		return Outcome{Kind: MissingHandler, EventName: event.Name}
	}

	if len(log.Topics)-1 != numIndexed(event) {
		return Outcome{Kind: MissingFields, Reason: fmt.Sprintf("event %s expects %d indexed topics, log has %d", event.Name, numIndexed(event), len(log.Topics)-1)}
	}

	decoded, err := handler.Decode(log)
	if err != nil {
		return Outcome{Kind: DecodeError, Reason: "handler decode failed", Err: err}
	}

	return Outcome{Kind: Decoded, Event: decoded}
}

func numIndexed(event *abi.Event) int {
	n := 0
	for _, arg := range event.Inputs {
		if arg.Indexed {
			n++
		}
	}
	return n
}
