// Package watcher finds calls to the watched function, in the pending pool and in new blocks,
// and feeds them to a fixed pool of workers through a bounded queue.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ligun0805/mint-racer/internal/chain"
)

type Origin int

const (
	Pending Origin = iota
	Mined
)

func (o Origin) String() string {
	if o == Pending {
		return "pending"
	}
	return "block"
}

// DetectedCall is one observed call to the watched function.
type DetectedCall struct {
	Hash   common.Hash
	From   common.Address
	Origin Origin
	// Block is the block number for mined calls, nil for pending ones.
	Block *big.Int
}

type Backend interface {
	SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	BlockTransactions(ctx context.Context, number *big.Int) (types.Transactions, error)
}

// HeadObserver is told about every new head, the fee estimator uses it to track the base fee.
type HeadObserver interface {
	ObserveHeader(h *types.Header)
}

// Handler runs one attempt for a detected call.
type Handler func(ctx context.Context, call DetectedCall)

type Config struct {
	QueueSize  int
	Workers    int
	Dedupe     bool
	DedupeSize int
	// Fetchers bounds concurrent transaction lookups on the pending path.
	Fetchers   int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

var DefaultConfig = Config{
	QueueSize:  64,
	Workers:    4,
	Dedupe:     false,
	DedupeSize: 1024,
	Fetchers:   16,
	MinBackoff: time.Second,
	MaxBackoff: 30 * time.Second,
}

type Stats struct {
	Detected   uint64
	Dropped    uint64
	Suppressed uint64
}

type Watcher struct {
	backend Backend
	heads   HeadObserver
	matcher *Matcher
	handler Handler
	config  Config

	queue chan DetectedCall
	seen  *lru.Cache[common.Hash, struct{}]

	detected   atomic.Uint64
	dropped    atomic.Uint64
	suppressed atomic.Uint64
}

func New(backend Backend, heads HeadObserver, matcher *Matcher, handler Handler, config Config) (*Watcher, error) {
	if config.QueueSize < 1 || config.Workers < 1 {
		return nil, fmt.Errorf("queue size %d and workers %d must be positive", config.QueueSize, config.Workers)
	}
	if config.Fetchers < 1 {
		config.Fetchers = DefaultConfig.Fetchers
	}
	if config.MinBackoff <= 0 {
		config.MinBackoff = DefaultConfig.MinBackoff
	}
	if config.MaxBackoff < config.MinBackoff {
		config.MaxBackoff = config.MinBackoff
	}
	w := &Watcher{
		backend: backend,
		heads:   heads,
		matcher: matcher,
		handler: handler,
		config:  config,
		queue:   make(chan DetectedCall, config.QueueSize),
	}
	if config.Dedupe {
		seen, err := lru.New[common.Hash, struct{}](config.DedupeSize)
		if err != nil {
			return nil, fmt.Errorf("creating dedupe cache: %w", err)
		}
		w.seen = seen
	}
	return w, nil
}

// Run watches both paths and runs the workers until ctx ends. It returns early with
// ErrNoBlockFeed when the node cannot stream new heads.
func (w *Watcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.config.Workers; i++ {
		g.Go(func() error {
			w.work(ctx)
			return nil
		})
	}
	g.Go(func() error {
		return w.keepWatching(ctx, "pending", w.watchPending)
	})
	g.Go(func() error {
		return w.keepWatching(ctx, "block", w.watchBlocks)
	})
	return g.Wait()
}

func (w *Watcher) Stats() Stats {
	return Stats{
		Detected:   w.detected.Load(),
		Dropped:    w.dropped.Load(),
		Suppressed: w.suppressed.Load(),
	}
}

func (w *Watcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case call := <-w.queue:
			w.handler(ctx, call)
		}
	}
}

// keepWatching re-establishes a lost subscription with capped exponential backoff. An
// unsupported pending feed is abandoned; an unsupported head feed leaves nothing to watch and
// ends Run with ErrNoBlockFeed.
func (w *Watcher) keepWatching(ctx context.Context, path string, watch func(context.Context) (bool, error)) error {
	backoff := w.config.MinBackoff
	for {
		established, err := watch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if !established && chain.IsSubscriptionUnsupported(err) {
			if path == "pending" {
				log.Warn("pending transaction feed unsupported by node, relying on new blocks", "err", err)
				return nil
			}
			return fmt.Errorf("%w: %w", ErrNoBlockFeed, err)
		}
		if established {
			backoff = w.config.MinBackoff
		}
		log.Warn("subscription lost, resubscribing", "path", path, "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > w.config.MaxBackoff {
			backoff = w.config.MaxBackoff
		}
	}
}

var (
	ErrNoBlockFeed        = errors.New("node cannot stream new blocks")
	errSubscriptionClosed = errors.New("subscription closed")
)

func (w *Watcher) watchPending(ctx context.Context) (bool, error) {
	hashes := make(chan common.Hash, 256)
	sub, err := w.backend.SubscribePendingTransactions(ctx, hashes)
	if err != nil {
		return false, err
	}
	defer sub.Unsubscribe()
	log.Info("watching pending transactions")

	var fetch errgroup.Group
	fetch.SetLimit(w.config.Fetchers)
	defer func() { _ = fetch.Wait() }()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case err := <-sub.Err():
			if err == nil {
				err = errSubscriptionClosed
			}
			return true, err
		case hash := <-hashes:
			fetch.Go(func() error {
				w.inspectPending(ctx, hash)
				return nil
			})
		}
	}
}

func (w *Watcher) inspectPending(ctx context.Context, hash common.Hash) {
	tx, _, err := w.backend.TransactionByHash(ctx, hash)
	if err != nil {
		// pool churn makes these common: dropped, replaced or already mined
		log.Trace("failed to fetch pending transaction", "hash", hash, "err", err)
		return
	}
	w.consider(tx, Pending, nil)
}

func (w *Watcher) watchBlocks(ctx context.Context) (bool, error) {
	heads := make(chan *types.Header, 16)
	sub, err := w.backend.SubscribeNewHead(ctx, heads)
	if err != nil {
		return false, err
	}
	defer sub.Unsubscribe()
	log.Info("watching new blocks")

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case err := <-sub.Err():
			if err == nil {
				err = errSubscriptionClosed
			}
			return true, err
		case h := <-heads:
			w.inspectBlock(ctx, h)
		}
	}
}

func (w *Watcher) inspectBlock(ctx context.Context, h *types.Header) {
	if h == nil || h.Number == nil {
		return
	}
	if w.heads != nil {
		w.heads.ObserveHeader(h)
	}
	txs, err := w.backend.BlockTransactions(ctx, h.Number)
	if err != nil {
		log.Debug("failed to fetch block", "number", h.Number, "err", err)
		return
	}
	for _, tx := range txs {
		w.consider(tx, Mined, h.Number)
	}
}

func (w *Watcher) consider(tx *types.Transaction, origin Origin, block *big.Int) {
	from, ok := w.matcher.Match(tx)
	if !ok {
		return
	}
	call := DetectedCall{Hash: tx.Hash(), From: from, Origin: origin, Block: block}
	if w.seen != nil {
		if seen, _ := w.seen.ContainsOrAdd(call.Hash, struct{}{}); seen {
			w.suppressed.Add(1)
			log.Debug("call already attempted, skipping", "hash", call.Hash, "origin", origin)
			return
		}
	}
	select {
	case w.queue <- call:
		w.detected.Add(1)
		log.Info("matching call detected", "hash", call.Hash, "from", call.From, "origin", origin, "block", block)
	default:
		w.dropped.Add(1)
		log.Warn("detection queue full, dropping call", "hash", call.Hash, "origin", origin, "queued", len(w.queue))
	}
}
