package signer

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool runs CPU-bound sign and verify work off the caller's goroutine with
// bounded parallelism.
type Pool struct {
	workers int
	sem     *semaphore.Weighted
}

// NewPool returns a pool of the given size; workers <= 0 uses GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: workers, sem: semaphore.NewWeighted(int64(workers))}
}

// Sign signs msg on a pool worker. It returns early with ctx's error if ctx
// ends first; the worker still finishes and frees its slot.
func (p *Pool) Sign(ctx context.Context, s *Signer, msg []byte) ([]byte, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	out := make(chan []byte, 1)
	go func() {
		defer p.sem.Release(1)
		out <- s.Sign(msg)
	}()
	select {
	case sig := <-out:
		return sig, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Verify checks one signature on a pool worker.
func (p *Pool) Verify(ctx context.Context, v *Verifier, msg, sig, pub []byte) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	out := make(chan bool, 1)
	go func() {
		defer p.sem.Release(1)
		out <- v.Verify(msg, sig, pub)
	}()
	select {
	case ok := <-out:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// VerifyItem is one signature to check in a batch.
type VerifyItem struct {
	Message   []byte
	Signature []byte
	PublicKey []byte
}

// VerifyBatch checks items in parallel and returns one result per item.
func (p *Pool) VerifyBatch(ctx context.Context, v *Verifier, items []VerifyItem) ([]bool, error) {
	results := make([]bool, len(items))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range items {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = v.Verify(items[i].Message, items[i].Signature, items[i].PublicKey)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
