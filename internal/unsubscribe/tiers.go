package unsubscribe

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var errNoTiers = errors.New("no tiers to try")

// tier is one way of achieving a DOM outcome.
type tier struct {
	name string
	run  func(ctx context.Context) error
}

// TierResult names the tier that succeeded, or carries every tier's error
// when all of them failed.
type TierResult struct {
	Tier string
	Err  error
}

func (r TierResult) Succeeded() bool {
	return r.Tier != ""
}

// runTiers tries each tier in order and stops at the first success.
func runTiers(ctx context.Context, tiers []tier) TierResult {
	if len(tiers) == 0 {
		return TierResult{Err: errNoTiers}
	}
	var errs []error
	for _, t := range tiers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := t.run(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
			continue
		}
		return TierResult{Tier: t.name}
	}
	return TierResult{Err: errors.Join(errs...)}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
