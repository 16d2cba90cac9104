package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Event journal key schema
//
//	ev:<seq>             → JSON event
//	evacc:<addr>:<seq>   → empty (index of events touching an account)
//	claim:<txhash>       → key of the event that credited the transaction
//
// Sequence numbers are zero-padded to 20 digits so lexicographic order is
// numeric order.
const (
	prefixEvent        = "ev:"
	prefixEventAccount = "evacc:"
	prefixClaim        = "claim:"
)

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

func eventPrefix() []byte { return []byte(prefixEvent) }

// accountEventKey indexes seq under addr.
// Format: "evacc:{address}:{seq}"
func accountEventKey(addr common.Address, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixEventAccount, addr.Hex(), seq))
}

func accountEventPrefix(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixEventAccount, addr.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
// Example: prefix "ev:" -> upper bound "ev;"
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// seqFromKey parses the trailing sequence number of an event or index key.
func seqFromKey(key []byte) (uint64, error) {
	s := string(key)
	i := strings.LastIndexByte(s, ':')
	if i < 0 || i == len(s)-1 {
		return 0, fmt.Errorf("invalid event key: %q", s)
	}
	return strconv.ParseUint(s[i+1:], 10, 64)
}

func claimKey(hash common.Hash) []byte {
	return []byte(prefixClaim + hash.Hex())
}

func claimPrefix() []byte { return []byte(prefixClaim) }
