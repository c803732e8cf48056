// Package sync drives paged fetches against the remote source to
// exhaustion and maintains the deduplicated working set each list screen
// reads from.
package sync

import (
	"context"
	"fmt"
	"log"
	"sync"

	"fieldsync/api/internal/record"
)

// PageSource issues one page request. Implemented by erp.Client.
type PageSource interface {
	FetchPage(ctx context.Context, operation string, page, pageSize int) (record.Page, error)
}

// Snapshot is a point-in-time copy of an accumulator's state. The records
// slice is owned by the caller.
type Snapshot struct {
	Records []record.RawRecord
	HasMore bool
	Syncing bool
	Err     error
}

// Accumulator owns the working set for one operation. It fetches pages in
// an explicit loop until the source reports exhaustion, dedupes records by
// identity (first write wins) and preserves insertion order. At most one
// fetch loop runs at a time; a Reset during an in-flight fetch bumps the
// generation so the stale response is discarded when it lands.
type Accumulator struct {
	source    PageSource
	operation string
	pageSize  int
	maxPages  int

	syncMu sync.Mutex // serializes fetch loops

	mu         sync.Mutex
	entries    map[string]record.RawRecord
	order      []string
	page       int
	hasMore    bool
	fetching   bool
	generation uint64
	lastErr    error
}

func NewAccumulator(source PageSource, operation string, pageSize, maxPages int) *Accumulator {
	return &Accumulator{
		source:    source,
		operation: operation,
		pageSize:  pageSize,
		maxPages:  maxPages,
		entries:   make(map[string]record.RawRecord),
		hasMore:   true,
	}
}

// Sync runs the fetch loop until the source is exhausted, the page cap is
// hit, the context is canceled or a fetch fails. On failure the working
// set accumulated so far is retained and the error is both recorded and
// returned; a later Sync resumes from the failed page.
func (a *Accumulator) Sync(ctx context.Context) error {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()
	return a.run(ctx)
}

// LoadMore resumes the fetch loop unless one is already running, in which
// case it is a no-op.
func (a *Accumulator) LoadMore(ctx context.Context) error {
	if !a.syncMu.TryLock() {
		return nil
	}
	defer a.syncMu.Unlock()
	return a.run(ctx)
}

func (a *Accumulator) run(ctx context.Context) error {
	a.mu.Lock()
	gen := a.generation
	a.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		a.mu.Lock()
		if a.generation != gen || !a.hasMore {
			a.mu.Unlock()
			return nil
		}
		if a.page >= a.maxPages {
			a.hasMore = false
			a.mu.Unlock()
			log.Printf("sync: %s reached page cap %d, stopping", a.operation, a.maxPages)
			return nil
		}
		pageIndex := a.page
		a.fetching = true
		a.mu.Unlock()

		page, err := a.source.FetchPage(ctx, a.operation, pageIndex, a.pageSize)

		a.mu.Lock()
		a.fetching = false
		if a.generation != gen {
			// Reset happened while the fetch was in flight; the
			// response belongs to a discarded working set.
			a.mu.Unlock()
			return nil
		}
		if err != nil {
			a.lastErr = err
			a.mu.Unlock()
			return err
		}
		a.lastErr = nil
		a.applyLocked(pageIndex, page)
		a.mu.Unlock()
	}
}

// applyLocked merges one fetched page into the working set. Caller holds mu.
func (a *Accumulator) applyLocked(pageIndex int, page record.Page) {
	for i, identity := range pageIdentities(pageIndex, page.Records) {
		if _, exists := a.entries[identity]; exists {
			continue
		}
		a.entries[identity] = page.Records[i]
		a.order = append(a.order, identity)
	}
	if page.ExplicitHasMore != nil {
		a.hasMore = *page.ExplicitHasMore
	} else {
		a.hasMore = len(page.Records) == a.pageSize
	}
	a.page = pageIndex + 1
}

// Reset clears the working set so the next Sync rebuilds it from page
// zero. Any fetch still in flight is orphaned by the generation bump.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generation++
	a.entries = make(map[string]record.RawRecord)
	a.order = nil
	a.page = 0
	a.hasMore = true
	a.lastErr = nil
}

// Snapshot returns the working set in insertion order plus control flags.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	records := make([]record.RawRecord, 0, len(a.order))
	for _, identity := range a.order {
		records = append(records, a.entries[identity])
	}
	return Snapshot{
		Records: records,
		HasMore: a.hasMore,
		Syncing: a.fetching,
		Err:     a.lastErr,
	}
}

// pageIdentities assigns every record in a page a stable identity:
// document key plus page index plus the record's per-key ordinal within
// the page. Re-delivery of the same page therefore reproduces the same
// identities and dedupes to a no-op. Keyless records get a positional
// identity; they stay visible in raw views but can never be grouped.
func pageIdentities(pageIndex int, records []record.RawRecord) []string {
	identities := make([]string, len(records))
	seen := make(map[string]int, len(records))
	for i, r := range records {
		key := r.Key()
		if key == "" {
			identities[i] = fmt.Sprintf("#%d:%d", pageIndex, i)
			continue
		}
		ordinal := seen[key]
		seen[key]++
		identities[i] = fmt.Sprintf("%s#%d:%d", key, pageIndex, ordinal)
	}
	return identities
}
