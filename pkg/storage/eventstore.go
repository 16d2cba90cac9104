package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/dexcore/pkg/app/core/types"
)

// ErrOutOfOrder is returned when an event does not extend the journal.
var ErrOutOfOrder = errors.New("event sequence out of order")

// EventStore is an append-only Pebble journal of exchange events, read back
// by indexers through the API.
type EventStore struct {
	db *pebble.DB

	mu      sync.Mutex
	lastSeq uint64
}

// OpenEventStore opens (or creates) the journal at path and recovers the last
// written sequence number.
func OpenEventStore(path string) (*EventStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	s := &EventStore{db: db}

	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: eventPrefix(),
		UpperBound: keyUpperBound(eventPrefix()),
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open event store: %w", err)
	}
	if iter.Last() {
		s.lastSeq, err = seqFromKey(iter.Key())
	}
	if cerr := iter.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("recover last sequence: %w", err)
	}
	return s, nil
}

func (s *EventStore) Close() error { return s.db.Close() }

// LastSeq returns the highest sequence number written, 0 when empty.
func (s *EventStore) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// Publish appends ev. Sequence numbers must be strictly increasing.
func (s *EventStore) Publish(_ context.Context, ev types.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Seq <= s.lastSeq {
		return fmt.Errorf("%w: seq %d, last %d", ErrOutOfOrder, ev.Seq, s.lastSeq)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(eventKey(ev.Seq), data, nil); err != nil {
		return err
	}
	if common.IsHexAddress(ev.Account) {
		if err := batch.Set(accountEventKey(common.HexToAddress(ev.Account), ev.Seq), nil, nil); err != nil {
			return err
		}
	}
	if ev.TxHash != "" {
		if err := batch.Set(claimKey(common.HexToHash(ev.TxHash)), eventKey(ev.Seq), nil); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	s.lastSeq = ev.Seq
	return nil
}

// Get returns the event with sequence seq.
func (s *EventStore) Get(seq uint64) (types.Event, bool, error) {
	data, closer, err := s.db.Get(eventKey(seq))
	if err == pebble.ErrNotFound {
		return types.Event{}, false, nil
	}
	if err != nil {
		return types.Event{}, false, fmt.Errorf("failed to get event: %w", err)
	}
	defer closer.Close()

	var ev types.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return types.Event{}, false, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return ev, true, nil
}

// Range returns up to limit events with Seq >= from, in sequence order.
func (s *EventStore) Range(from uint64, limit int) ([]types.Event, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(from),
		UpperBound: keyUpperBound(eventPrefix()),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	events := make([]types.Event, 0)
	for iter.First(); iter.Valid() && (limit <= 0 || len(events) < limit); iter.Next() {
		var ev types.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, iter.Error()
}

// ByAccount returns up to limit events touching addr with Seq >= from.
func (s *EventStore) ByAccount(addr common.Address, from uint64, limit int) ([]types.Event, error) {
	prefix := accountEventPrefix(addr)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: accountEventKey(addr, from),
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	events := make([]types.Event, 0)
	for iter.First(); iter.Valid() && (limit <= 0 || len(events) < limit); iter.Next() {
		seq, err := seqFromKey(iter.Key())
		if err != nil {
			return nil, err
		}
		ev, ok, err := s.Get(seq)
		if err != nil {
			return nil, err
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events, iter.Error()
}

// Claimed returns the on-chain transactions already credited by an event.
func (s *EventStore) Claimed() ([]common.Hash, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: claimPrefix(),
		UpperBound: keyUpperBound(claimPrefix()),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []common.Hash
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, common.HexToHash(string(iter.Key()[len(prefixClaim):])))
	}
	return out, iter.Error()
}
