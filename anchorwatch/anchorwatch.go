// Package anchorwatch drives custodial anchoring from payment signals and
// keeps confirmation heights in sync.
package anchorwatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Anchorer broadcasts an anchor transaction for a record reference.
// *txbuild.Custodian satisfies it.
type Anchorer interface {
	AnchorReference(ctx context.Context, reference string) (string, error)
}

// AnchorStore is the external record store the watcher reports into. It
// holds which references have been anchored and at what height.
//
// PendingAnchors MUST return only anchors without a confirmation height.
type AnchorStore interface {
	RecordAnchor(ctx context.Context, reference, txid string) error
	PendingAnchors(ctx context.Context) ([]PendingAnchor, error)
	MarkConfirmed(ctx context.Context, reference string, height int64) error
}

// PendingAnchor is a broadcast anchor still waiting for a block.
type PendingAnchor struct {
	Reference string
	TxID      string
}

var errNilDependency = errors.New("anchorwatch: nil dependency")

type flight struct {
	done chan struct{}
	txid string
	err  error
}

// Service anchors each reference at most once per completed payment.
//
// Concurrent duplicate signals for one reference collapse into a single
// anchor attempt; later signals for an already-anchored reference return the
// recorded txid. A failed attempt is surfaced and forgotten, so only an
// explicit new signal retries it.
type Service struct {
	anchorer Anchorer
	store    AnchorStore
	log      zerolog.Logger

	mu       sync.Mutex
	anchored map[string]string
	inflight map[string]*flight
}

func NewService(anchorer Anchorer, store AnchorStore, log zerolog.Logger) (*Service, error) {
	if anchorer == nil || store == nil {
		return nil, errNilDependency
	}
	return &Service{
		anchorer: anchorer,
		store:    store,
		log:      log,
		anchored: make(map[string]string),
		inflight: make(map[string]*flight),
	}, nil
}

// PaymentCompleted handles a "payment completed" signal for a reference and
// returns the anchor txid.
func (s *Service) PaymentCompleted(ctx context.Context, reference string) (string, error) {
	s.mu.Lock()
	if txid, ok := s.anchored[reference]; ok {
		s.mu.Unlock()
		return txid, nil
	}
	if f, ok := s.inflight[reference]; ok {
		s.mu.Unlock()
		select {
		case <-f.done:
			return f.txid, f.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	s.inflight[reference] = f
	s.mu.Unlock()

	f.txid, f.err = s.anchor(ctx, reference)

	s.mu.Lock()
	delete(s.inflight, reference)
	if f.err == nil {
		s.anchored[reference] = f.txid
	}
	s.mu.Unlock()
	close(f.done)

	return f.txid, f.err
}

func (s *Service) anchor(ctx context.Context, reference string) (string, error) {
	txid, err := s.anchorer.AnchorReference(ctx, reference)
	if err != nil {
		s.log.Error().Str("reference", reference).Err(err).Msg("anchor attempt failed")
		return "", err
	}
	if err := s.store.RecordAnchor(ctx, reference, txid); err != nil {
		// The transaction is on the network regardless; losing the record
		// is worse than a duplicate log line.
		s.log.Error().Str("reference", reference).Str("txid", txid).Err(err).Msg("anchor broadcast but not recorded")
		return txid, err
	}
	s.log.Info().Str("reference", reference).Str("txid", txid).Msg("reference anchored")
	return txid, nil
}

// DefaultSyncInterval is how often HeightSync polls by default.
const DefaultSyncInterval = 10 * time.Minute

// HeightSync resolves confirmation heights for pending anchors on a fixed
// interval until its context is cancelled.
type HeightSync struct {
	chain    ConfirmationReader
	store    AnchorStore
	interval time.Duration
	log      zerolog.Logger
}

// ConfirmationReader is the slice of the explorer client HeightSync needs.
// A nil height means the transaction is still pending, not an error.
type ConfirmationReader interface {
	ConfirmationHeight(ctx context.Context, txid string) (*int64, error)
}

func NewHeightSync(chain ConfirmationReader, store AnchorStore, interval time.Duration, log zerolog.Logger) (*HeightSync, error) {
	if chain == nil || store == nil {
		return nil, errNilDependency
	}
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &HeightSync{chain: chain, store: store, interval: interval, log: log}, nil
}

// Run polls until ctx is cancelled. It always returns ctx.Err().
func (h *HeightSync) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		h.SyncOnce(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SyncOnce resolves heights for every pending anchor once. Per-anchor
// failures are logged and skipped; the sweep keeps going.
func (h *HeightSync) SyncOnce(ctx context.Context) {
	pending, err := h.store.PendingAnchors(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("listing pending anchors")
		return
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			return
		}
		height, err := h.chain.ConfirmationHeight(ctx, p.TxID)
		if err != nil {
			h.log.Warn().Str("txid", p.TxID).Err(err).Msg("confirmation lookup failed")
			continue
		}
		if height == nil {
			continue
		}
		if err := h.store.MarkConfirmed(ctx, p.Reference, *height); err != nil {
			h.log.Error().Str("reference", p.Reference).Err(err).Msg("recording confirmation")
			continue
		}
		h.log.Info().Str("reference", p.Reference).Str("txid", p.TxID).Int64("height", *height).Msg("anchor confirmed")
	}
}
