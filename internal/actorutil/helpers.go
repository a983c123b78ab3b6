// Package actorutil provides convenience helpers for working with
// ActorSystem's ask/tell surface across many addresses at once.
package actorutil

import (
	"context"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"

	nimbusactor "github.com/nimbus-actors/nimbus/internal/actor"
)

// AskAwait sends msg to to via asker and blocks until the correlated
// reply arrives or opts' deadline elapses.
func AskAwait(
	ctx context.Context,
	asker nimbusactor.Asker,
	to nimbusactor.Address,
	msg nimbusactor.Envelope,
	opts nimbusactor.AskOptions,
) (nimbusactor.Envelope, error) {

	future := asker.Ask(ctx, to, msg, opts)
	result := future.Await(ctx)
	return result.Unpack()
}

// TellAll sends msg to every address in tos using fire-and-forget
// semantics, collecting any per-address send errors in the same order.
func TellAll(
	ctx context.Context,
	teller nimbusactor.Teller,
	tos []nimbusactor.Address,
	msg nimbusactor.Envelope,
) []error {

	errs := make([]error, len(tos))
	for i, to := range tos {
		errs[i] = teller.Tell(ctx, to, msg)
	}
	return errs
}

// ParallelAsk sends msgs[i] to tos[i] concurrently and collects all
// results in the same order as tos. tos and msgs must have the same
// length.
func ParallelAsk(
	ctx context.Context,
	asker nimbusactor.Asker,
	tos []nimbusactor.Address,
	msgs []nimbusactor.Envelope,
	opts nimbusactor.AskOptions,
) []fn.Result[nimbusactor.Envelope] {

	if len(tos) != len(msgs) {
		panic("tos and msgs must have same length")
	}

	// Send all Ask requests concurrently.
	futures := make([]nimbusactor.Future[nimbusactor.Envelope], len(tos))
	for i, to := range tos {
		futures[i] = asker.Ask(ctx, to, msgs[i], opts)
	}

	// Await all results.
	results := make([]fn.Result[nimbusactor.Envelope], len(futures))
	for i, f := range futures {
		results[i] = f.Await(ctx)
	}
	return results
}

// ParallelAskSame sends the same message to every address in tos
// concurrently and collects all results in the same order.
func ParallelAskSame(
	ctx context.Context,
	asker nimbusactor.Asker,
	tos []nimbusactor.Address,
	msg nimbusactor.Envelope,
	opts nimbusactor.AskOptions,
) []fn.Result[nimbusactor.Envelope] {

	futures := make([]nimbusactor.Future[nimbusactor.Envelope], len(tos))
	for i, to := range tos {
		futures[i] = asker.Ask(ctx, to, msg, opts)
	}

	results := make([]fn.Result[nimbusactor.Envelope], len(futures))
	for i, f := range futures {
		results[i] = f.Await(ctx)
	}
	return results
}

// FirstSuccess sends msg to every address in tos concurrently and returns
// the first successful reply. If every address errors, the last error
// observed is returned.
func FirstSuccess(
	ctx context.Context,
	asker nimbusactor.Asker,
	tos []nimbusactor.Address,
	msg nimbusactor.Envelope,
	opts nimbusactor.AskOptions,
) (nimbusactor.Envelope, error) {

	if len(tos) == 0 {
		return nimbusactor.Envelope{}, fmt.Errorf("no addresses provided")
	}

	type resultWithIndex struct {
		result fn.Result[nimbusactor.Envelope]
		idx    int
	}
	resultCh := make(chan resultWithIndex, len(tos))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, to := range tos {
		go func(idx int, addr nimbusactor.Address) {
			future := asker.Ask(ctx, addr, msg, opts)
			result := future.Await(ctx)
			select {
			case resultCh <- resultWithIndex{result: result, idx: idx}:
			case <-ctx.Done():
			}
		}(i, to)
	}

	var lastErr error
	receivedCount := 0
	for receivedCount < len(tos) {
		select {
		case res := <-resultCh:
			receivedCount++
			val, err := res.result.Unpack()
			if err == nil {
				cancel()
				return val, nil
			}
			lastErr = err

		case <-ctx.Done():
			return nimbusactor.Envelope{}, ctx.Err()
		}
	}

	return nimbusactor.Envelope{}, lastErr
}

// MapResponses transforms a slice of results with mapFn, passing errors
// through unchanged.
func MapResponses[T any](
	results []fn.Result[nimbusactor.Envelope],
	mapFn func(nimbusactor.Envelope) T,
) []fn.Result[T] {

	mapped := make([]fn.Result[T], len(results))
	for i, r := range results {
		val, err := r.Unpack()
		if err != nil {
			mapped[i] = fn.Err[T](err)
		} else {
			mapped[i] = fn.Ok(mapFn(val))
		}
	}
	return mapped
}

// CollectSuccesses returns only the successful values from results,
// discarding errors.
func CollectSuccesses(results []fn.Result[nimbusactor.Envelope]) []nimbusactor.Envelope {
	var successes []nimbusactor.Envelope
	for _, r := range results {
		val, err := r.Unpack()
		if err == nil {
			successes = append(successes, val)
		}
	}
	return successes
}

// AllSucceeded reports whether every result in results is successful.
func AllSucceeded(results []fn.Result[nimbusactor.Envelope]) bool {
	for _, r := range results {
		if _, err := r.Unpack(); err != nil {
			return false
		}
	}
	return true
}

// FirstError returns the first error observed in results, or nil if every
// result succeeded.
func FirstError(results []fn.Result[nimbusactor.Envelope]) error {
	for _, r := range results {
		if _, err := r.Unpack(); err != nil {
			return err
		}
	}
	return nil
}
