package main

import (
	"sync"

	"github.com/google/btree"

	t "github.com/meshchat/chat/server/store/types"
)

// bundleLog is the append-only log of recorded bundles, ordered by the
// relay-assigned id. Relay ids are raw snowflake values, so id order is
// arrival order.
type bundleLog struct {
	lock sync.RWMutex
	byId *btree.BTreeG[*t.Bundle]
}

func newBundleLog() *bundleLog {
	return &bundleLog{
		byId: btree.NewG(16, func(x, y *t.Bundle) bool { return x.Id < y.Id }),
	}
}

func (bl *bundleLog) append(bundle *t.Bundle) {
	bl.lock.Lock()
	bl.byId.ReplaceOrInsert(bundle)
	bl.lock.Unlock()
}

// read returns up to limit bundles with ids strictly greater than after.
func (bl *bundleLog) read(after t.Uid, limit int) []t.Bundle {
	bl.lock.RLock()
	defer bl.lock.RUnlock()

	out := make([]t.Bundle, 0, limit)
	bl.byId.AscendGreaterOrEqual(&t.Bundle{Id: after}, func(b *t.Bundle) bool {
		if b.Id == after {
			return true
		}
		out = append(out, *b)
		return len(out) < limit
	})
	return out
}

func (bl *bundleLog) size() int {
	bl.lock.RLock()
	defer bl.lock.RUnlock()
	return bl.byId.Len()
}
