package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/srediag/shm-atomics/pkg/atomics"
	"github.com/srediag/shm-atomics/pkg/litmus"
	"github.com/srediag/shm-atomics/pkg/shm"
)

// totals are run counters kept in shared memory so other processes can read them.
type totals struct {
	seg        *shm.Segment
	runs       *uint64
	violations *uint64
}

// segmentDir is empty outside tests, selecting the platform default.
var segmentDir string

// openTotals opens the totals segment, or creates it. A region left behind by a
// serve that did not shut down is replaced.
func openTotals(ctx context.Context, name string, create bool) (*totals, error) {
	opts := shm.OpenOptions{Name: name, Size: segmentSize, Create: create, Dir: segmentDir}
	seg, err := shm.Open(ctx, opts)
	if create && errors.Is(err, os.ErrExist) {
		log.Warnf("segment %s exists, replacing it", name)
		if err := shm.Remove(name, segmentDir); err != nil {
			return nil, err
		}
		seg, err = shm.Open(ctx, opts)
	}
	if err != nil {
		return nil, err
	}
	if create {
		for _, want := range []int{runsOffset, violationsOffset} {
			off, err := seg.Alloc(8)
			if err != nil {
				seg.Close()
				return nil, err
			}
			if off != want {
				seg.Close()
				return nil, fmt.Errorf("layout: cell at %d, want %d", off, want)
			}
		}
	}
	t := &totals{seg: seg}
	if t.runs, err = seg.Uint64(runsOffset); err != nil {
		seg.Close()
		return nil, err
	}
	if t.violations, err = seg.Uint64(violationsOffset); err != nil {
		seg.Close()
		return nil, err
	}
	return t, nil
}

func (t *totals) add(r *litmus.Report) {
	if t == nil {
		return
	}
	atomics.FetchAdd(t.violations, uint64(r.Violations()), atomics.Relaxed)
	atomics.Increment(t.runs, atomics.Release)
}

func (t *totals) load() (runs, violations uint64) {
	runs = atomics.Load(t.runs, atomics.Acquire)
	return runs, atomics.Load(t.violations, atomics.Relaxed)
}

func (t *totals) close() {
	if t == nil {
		return
	}
	if err := t.seg.Close(); err != nil {
		log.Warnf("close segment: %v", err)
	}
}
