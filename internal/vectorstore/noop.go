package vectorstore

import "context"

// NoopStore is a Store that accepts every write and returns nothing. The
// memory service swaps it in when the real backend fails to come up, so
// callers keep working with recall disabled instead of erroring.
type NoopStore struct{}

var _ Store = (*NoopStore)(nil)

// NewNoopStore returns a no-op store.
func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (*NoopStore) EnsureCollection(ctx context.Context, name string) error {
	return nil
}

func (*NoopStore) Add(ctx context.Context, collection string, docs []Document) error {
	return nil
}

func (*NoopStore) Get(ctx context.Context, collection string, where map[string]string, limit int) ([]Document, error) {
	return nil, nil
}

func (*NoopStore) Query(ctx context.Context, collection, text string, n int, where map[string]string) ([]QueryResult, error) {
	return nil, nil
}

func (*NoopStore) Delete(ctx context.Context, collection string, ids ...string) error {
	return nil
}

func (*NoopStore) DeleteCollection(ctx context.Context, name string) error {
	return nil
}

func (*NoopStore) ListCollections(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (*NoopStore) Count(ctx context.Context, collection string) (int, error) {
	return 0, nil
}

func (*NoopStore) Heartbeat(ctx context.Context) error {
	return nil
}

func (*NoopStore) Close() error {
	return nil
}
