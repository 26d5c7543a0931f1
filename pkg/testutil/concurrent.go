package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	"keepsake/internal/sentinel"
	dErrors "keepsake/pkg/domain-errors"
)

// ConcurrentResult tracks outcomes of concurrent test operations.
type ConcurrentResult struct {
	Successes       int32
	Conflicts       int32
	ChainViolations int32
	Errors          int32
}

func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Conflicts + r.ChainViolations + r.Errors
}

// RunConcurrent runs fn in n goroutines and buckets the outcomes. Conflicts are
// either sentinel.ErrConflict or a domain conflict; chain violations are counted
// separately because concurrent appends to one stream must surface as those.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	var wg sync.WaitGroup
	var ok, conflicts, chain, errs atomic.Int32

	for i := range n {
		wg.Go(func() {
			err := fn(i)
			switch {
			case err == nil:
				ok.Add(1)
			case dErrors.HasCode(err, dErrors.CodeChainViolation):
				chain.Add(1)
			case errors.Is(err, sentinel.ErrConflict), dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts.Add(1)
			default:
				errs.Add(1)
			}
		})
	}
	wg.Wait()

	return &ConcurrentResult{
		Successes:       ok.Load(),
		Conflicts:       conflicts.Load(),
		ChainViolations: chain.Load(),
		Errors:          errs.Load(),
	}
}
