package oplog

import (
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// TxnBuffer implements the SPEC_FULL.md §4.4 distributed-transaction
// handling for a sharded source: entries that belong to a multi-statement
// transaction are held back until a commitTransaction is observed, then
// released in their original order. Grounded on the teacher's
// pbm/restore.applyOplog handling of oplog.Txn / RestoreTxn, which
// buffers prepared statements and applies them once a commit is seen
// rather than mid-transaction (a partially-applied transaction would
// leave the destination in a state no point-in-time on the source ever
// had).
type TxnBuffer struct {
	mu      sync.Mutex
	pending map[string][]Entry
}

// NewTxnBuffer returns an empty buffer.
func NewTxnBuffer() *TxnBuffer {
	return &TxnBuffer{pending: make(map[string][]Entry)}
}

// Observe records e. If e completes a transaction (a commitTransaction
// command), it returns (true, entries) with every buffered statement for
// that transaction in original order, including the commit itself. If e
// aborts a transaction, the buffered statements are discarded and
// Observe returns (false, nil). Otherwise e is buffered and Observe
// returns (false, nil).
func (b *TxnBuffer) Observe(e Entry) (bool, []Entry) {
	key := e.TxnKey()
	if key == "" {
		return true, []Entry{e} // not part of a transaction; apply immediately
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if e.Op == Command {
		switch cmdName(e.O) {
		case "commitTransaction":
			flushed := append(b.pending[key], e)
			delete(b.pending, key)
			return true, flushed
		case "abortTransaction":
			delete(b.pending, key)
			return false, nil
		}
	}

	b.pending[key] = append(b.pending[key], e)
	return false, nil
}

// Leftovers returns every transaction still buffered (neither committed
// nor aborted): reported, never silently applied, per SPEC_FULL.md §4.4.
func (b *TxnBuffer) Leftovers() map[string][]Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string][]Entry, len(b.pending))
	for k, v := range b.pending {
		out[k] = append([]Entry(nil), v...)
	}
	return out
}

func cmdName(cmd bson.Raw) string {
	name, _ := firstKey(cmd)
	return name
}
