package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	"consentledger/internal/sentinel"
	dErrors "consentledger/pkg/domain-errors"
)

// ConcurrentResult counts how racing transitions ended.
type ConcurrentResult struct {
	Successes int32
	Errors    int32
	Conflicts int32
	NotFounds int32
}

func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Errors + r.Conflicts + r.NotFounds
}

// RunConcurrent releases n goroutines at once and tallies what fn returned.
// A lost race shows up as a store conflict, a stale version or an illegal
// transition; all three count as Conflicts.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	var (
		wg      sync.WaitGroup
		tallies [4]atomic.Int32
		gate    = make(chan struct{})
	)
	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			<-gate
			tallies[classify(fn(i))].Add(1)
		}()
	}
	close(gate)
	wg.Wait()

	return &ConcurrentResult{
		Successes: tallies[outcomeOK].Load(),
		Errors:    tallies[outcomeError].Load(),
		Conflicts: tallies[outcomeConflict].Load(),
		NotFounds: tallies[outcomeNotFound].Load(),
	}
}

const (
	outcomeOK = iota
	outcomeError
	outcomeConflict
	outcomeNotFound
)

func classify(err error) int {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, sentinel.ErrConflict),
		errors.Is(err, sentinel.ErrStaleState),
		dErrors.HasCode(err, dErrors.CodeIllegalTransition),
		dErrors.HasCode(err, dErrors.CodeConflict):
		return outcomeConflict
	case errors.Is(err, sentinel.ErrNotFound), dErrors.HasCode(err, dErrors.CodeNotFound):
		return outcomeNotFound
	default:
		return outcomeError
	}
}
