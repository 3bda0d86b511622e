package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/storage"
)

// passState is the store lease held for one pass together with the grant.
// The lease is renewed at expiration checkpoints once half its TTL is gone.
type passState struct {
	store   storage.Store
	exp     Expiration
	account string
	holder  string
	ttl     time.Duration
	renewed time.Time
	release func()
	lost    bool
}

// open warms the store and takes the account lease. Any failure is
// ErrStoreUnavailable.
func (o *Orchestrator) open(ctx context.Context, exp Expiration, seq uint64) (*passState, error) {
	if err := o.store.Ping(ctx); err != nil {
		return nil, unavailable(err)
	}

	holder := fmt.Sprintf("%s#%d", o.cfg.Holder, seq)

	release, err := o.store.Acquire(ctx, o.cfg.Account, holder, o.cfg.LeaseTTL)
	if err != nil {
		return nil, unavailable(err)
	}

	return &passState{
		store:   o.store,
		exp:     exp,
		account: o.cfg.Account,
		holder:  holder,
		ttl:     o.cfg.LeaseTTL,
		renewed: time.Now(),
		release: release,
	}, nil
}

// Expired lets the pass state stand in for the grant, e.g. for the cleaner.
func (p *passState) Expired() bool {
	return p.lost || p.exp.Expired()
}

// expired is the checkpoint between units of work.
func (p *passState) expired(ctx context.Context) bool {
	if p.Expired() {
		return true
	}

	if time.Since(p.renewed) < p.ttl/2 {
		return false
	}

	if _, err := p.store.Acquire(ctx, p.account, p.holder, p.ttl); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "lost store lease, stopping pass", "err", err)

		p.lost = true

		return true
	}

	p.renewed = time.Now()

	return false
}

func unavailable(err error) error {
	if errors.Is(err, storage.ErrStoreUnavailable) {
		return err
	}

	return fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
}
