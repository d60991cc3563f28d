package kademlia

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
)

// joinAttempts bounds Bootstrap; each attempt tries every seed once.
const joinAttempts = 5

// Bootstrap joins through the first seed that answers, retrying the whole
// seed list with exponential backoff. No seeds means we start a new network.
func (kademlia *Kademlia) Bootstrap(ctx context.Context, seeds []string) error {
	if len(seeds) == 0 {
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 4 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(policy, joinAttempts-1), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var errs []error
		for _, addr := range seeds {
			if addr == "" || addr == kademlia.me.Address {
				continue
			}
			seed := Contact{Address: addr}
			err := kademlia.Join(&seed)
			if err == nil {
				return nil
			}
			errs = append(errs, err)
		}
		kademlia.log.Warn("bootstrap attempt failed", "attempt", attempt, "seeds", len(seeds))
		if len(errs) == 0 {
			return fmt.Errorf("%w: no usable seeds", ErrJoinFailed)
		}
		return errors.Join(errs...)
	}, b)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("bootstrap after %d attempts: %w", attempt, err)
	}
	return nil
}
