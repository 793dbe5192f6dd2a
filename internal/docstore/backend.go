package docstore

import "context"

// Backend persists documents. Implementations must be safe for concurrent use.
// Merge creates the document when missing. MergeExisting returns ErrNotFound
// instead, checking presence and writing in one step. Delete of a missing
// document is not an error.
type Backend interface {
	Get(ctx context.Context, collection, id string) (Doc, error)
	Set(ctx context.Context, collection, id string, doc Doc) error
	Merge(ctx context.Context, collection, id string, patch Doc) error
	MergeExisting(ctx context.Context, collection, id string, patch Doc) error
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string) ([]Entry, error)
	Close() error
}

// Notifier is implemented by backends shared with other processes. The
// callback fires for every document changed by anyone, possibly including
// writes this process already knows about.
type Notifier interface {
	OnRemoteChange(fn func(Ref))
}
