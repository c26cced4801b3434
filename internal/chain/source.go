package chain

import "context"

// Source exposes the ledger event stream to the indexer.
//
// FetchRange must return the events of every tracked kind in [from, to], or
// fail as a whole; a partial fetch is reported as an error so the caller can
// retry the entire range without advancing its checkpoint. For a reorg-free
// range the result is repeatable across calls.
type Source interface {
	// HeadBlock returns the current head position of the source stream.
	HeadBlock(ctx context.Context) (uint64, error)
	// FetchRange returns all tracked events with positions inside the
	// inclusive block range.
	FetchRange(ctx context.Context, from, to uint64) ([]Event, error)
}
