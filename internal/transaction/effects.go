package transaction

import (
	"github.com/flowglad/flowglad/internal/events"
	ledgerdomain "github.com/flowglad/flowglad/internal/ledger/domain"
)

// Effects accumulates side effects requested while a transaction is open.
// Appends are in-memory only; nothing here performs I/O. Events and ledger
// commands are persisted inside the transaction right before commit, cache
// invalidation runs strictly after commit, and the whole bundle is dropped
// if the transaction rolls back.
//
// Effects is owned by a single request's control flow and is not safe for
// concurrent use from multiple goroutines.
type Effects struct {
	events         []events.Event
	ledgerCommands []ledgerdomain.Command
	cacheKeys      []string
	cacheKeySeen   map[string]struct{}
}

func newEffects() *Effects {
	return &Effects{cacheKeySeen: make(map[string]struct{})}
}

// EmitEvent queues domain events for transactional publication.
func (e *Effects) EmitEvent(evts ...events.Event) {
	e.events = append(e.events, evts...)
}

// EnqueueLedgerCommand queues a ledger posting.
func (e *Effects) EnqueueLedgerCommand(cmd ledgerdomain.Command) {
	e.ledgerCommands = append(e.ledgerCommands, cmd)
}

// InvalidateCache marks cache keys for purging after commit. Duplicate keys
// collapse.
func (e *Effects) InvalidateCache(keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := e.cacheKeySeen[key]; ok {
			continue
		}
		e.cacheKeySeen[key] = struct{}{}
		e.cacheKeys = append(e.cacheKeys, key)
	}
}

func (e *Effects) counts() (eventCount, ledgerCount, cacheCount int) {
	return len(e.events), len(e.ledgerCommands), len(e.cacheKeys)
}
