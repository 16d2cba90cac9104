package api

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// nonceTracker remembers the highest request nonce accepted per account.
// A signed request is only accepted once: its nonce must be strictly greater
// than the last one seen from the same signer.
type nonceTracker struct {
	mu   sync.Mutex
	last map[common.Address]uint64
}

func newNonceTracker() *nonceTracker {
	return &nonceTracker{last: make(map[common.Address]uint64)}
}

// use consumes nonce for addr.
func (n *nonceTracker) use(addr common.Address, nonce uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.last[addr]; ok && nonce <= last {
		return fmt.Errorf("nonce %d not above last accepted %d", nonce, last)
	}
	n.last[addr] = nonce
	return nil
}

// next returns the smallest nonce addr may use.
func (n *nonceTracker) next(addr common.Address) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	last, ok := n.last[addr]
	if !ok {
		return 0
	}
	return last + 1
}
