// Package nonce hands out transaction nonces for a single sender.
//
// Allocation and release form a slot protocol: Allocate parks the caller until no other
// allocation is in flight, hands out the next nonce and keeps the slot held; Release frees it
// for the next waiter. Every successful Allocate must be paired with exactly one Release.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/semaphore"
)

var ErrNotInitialized = errors.New("nonce sequencer not initialized")

// Backend reads the confirmed transaction count of an account.
type Backend interface {
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
}

type Sequencer struct {
	backend      Backend
	stallWarning time.Duration
	slot         *semaphore.Weighted

	// these fields are protected by the mutex
	mutex       sync.Mutex
	initialized bool
	next        uint64
	locked      bool
	heldSince   time.Time
}

// NewSequencer creates a sequencer. A positive stallWarning makes waiting callers log a
// warning each time they have waited that long for the slot.
func NewSequencer(backend Backend, stallWarning time.Duration) *Sequencer {
	return &Sequencer{
		backend:      backend,
		stallWarning: stallWarning,
		slot:         semaphore.NewWeighted(1),
	}
}

// Init sets the counter to the chain's confirmed transaction count for addr.
func (s *Sequencer) Init(ctx context.Context, addr common.Address) error {
	n, err := s.backend.NonceAt(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("reading nonce of %v: %w", addr, err)
	}
	s.mutex.Lock()
	s.next = n
	s.initialized = true
	s.mutex.Unlock()
	log.Info("nonce sequencer initialized", "address", addr, "nonce", n)
	return nil
}

// Allocate waits for the slot, then returns the current counter and increments it.
// The slot stays held until Release.
func (s *Sequencer) Allocate(ctx context.Context) (uint64, error) {
	s.mutex.Lock()
	initialized := s.initialized
	s.mutex.Unlock()
	if !initialized {
		return 0, ErrNotInitialized
	}
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	n := s.next
	s.next++
	s.locked = true
	s.heldSince = time.Now()
	return n, nil
}

func (s *Sequencer) acquire(ctx context.Context) error {
	if s.stallWarning <= 0 {
		return s.slot.Acquire(ctx, 1)
	}
	waited := time.Duration(0)
	for {
		waitCtx, cancel := context.WithTimeout(ctx, s.stallWarning)
		err := s.slot.Acquire(waitCtx, 1)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		waited += s.stallWarning
		log.Warn("still waiting for the nonce slot", "waited", waited, "holderHeldFor", s.HeldFor())
	}
}

// Release frees the slot. Releasing a slot that is not held is logged and ignored.
func (s *Sequencer) Release() {
	s.mutex.Lock()
	if !s.locked {
		s.mutex.Unlock()
		log.Error("nonce slot released while not held")
		return
	}
	s.locked = false
	s.heldSince = time.Time{}
	s.mutex.Unlock()
	s.slot.Release(1)
}

// Resync raises the counter to the chain's confirmed count when the chain is ahead, which
// happens when nonces were consumed outside this process. It never lowers the counter.
func (s *Sequencer) Resync(ctx context.Context, addr common.Address) (bool, error) {
	n, err := s.backend.NonceAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("reading nonce of %v: %w", addr, err)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if n <= s.next {
		return false, nil
	}
	log.Warn("nonce drift detected, resyncing", "address", addr, "local", s.next, "chain", n, "drift", n-s.next)
	s.next = n
	return true, nil
}

// Next is the nonce the next Allocate will hand out.
func (s *Sequencer) Next() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.next
}

func (s *Sequencer) Locked() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.locked
}

// HeldFor is how long the current holder has had the slot, zero when free.
func (s *Sequencer) HeldFor() time.Duration {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.locked {
		return 0
	}
	return time.Since(s.heldSince)
}
