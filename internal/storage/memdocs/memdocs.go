// Package memdocs is an in-process docstore.Store with optimistic transactions.
// Each document carries a version; a transaction records the versions it read
// and fails with docstore.ErrConflict at commit if any of them moved.
package memdocs

import (
	"context"
	"sort"
	"sync"

	"github.com/BearBump/TradeBox/internal/storage/docstore"
	"github.com/pkg/errors"
)

type document struct {
	data    []byte
	version uint64
	seq     uint64
}

type Store struct {
	mu   sync.RWMutex
	docs map[docstore.Ref]*document
	seq  uint64
}

var _ docstore.Store = (*Store)(nil)

func New() *Store {
	return &Store{docs: make(map[docstore.Ref]*document)}
}

func (s *Store) Get(ctx context.Context, ref docstore.Ref, dst any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	d, ok := s.docs[ref]
	var data []byte
	if ok {
		data = d.data
	}
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}
	return true, docstore.Decode(data, dst)
}

func (s *Store) Create(ctx context.Context, ref docstore.Ref, doc any) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Create(ctx, ref, doc)
	})
}

func (s *Store) Merge(ctx context.Context, ref docstore.Ref, fields map[string]any) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Merge(ctx, ref, fields)
	})
}

func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type item struct {
		id   string
		seq  uint64
		data []byte
	}

	s.mu.RLock()
	items := make([]item, 0)
	for ref, d := range s.docs {
		if ref.Collection == collection {
			items = append(items, item{id: ref.ID, seq: d.seq, data: d.data})
		}
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].seq != items[j].seq {
			return items[i].seq > items[j].seq
		}
		return items[i].id > items[j].id
	})

	start := 0
	if q.StartAfter != "" {
		start = len(items)
		for i, it := range items {
			if it.id == q.StartAfter {
				start = i + 1
				break
			}
		}
	}

	out := make([]docstore.Snapshot, 0)
	for _, it := range items[start:] {
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
		out = append(out, docstore.Snapshot{ID: it.id, Data: append([]byte(nil), it.data...)})
	}
	return out, nil
}

// RunInTx runs fn once. A stale read detected at commit returns docstore.ErrConflict.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	tx := &memTx{
		store:  s,
		reads:  make(map[docstore.Ref]uint64),
		writes: make(map[docstore.Ref]*pendingWrite),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ref, v := range tx.reads {
		if s.versionLocked(ref) != v {
			return errors.Wrapf(docstore.ErrConflict, "%s changed", ref)
		}
	}

	// порядок применения стабилен, чтобы seq созданий был детерминирован
	refs := make([]docstore.Ref, 0, len(tx.writes))
	for ref := range tx.writes {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return tx.writes[refs[i]].order < tx.writes[refs[j]].order })

	for _, ref := range refs {
		w := tx.writes[ref]
		if d, ok := s.docs[ref]; ok {
			d.data = w.data
			d.version++
			continue
		}
		s.seq++
		s.docs[ref] = &document{data: w.data, version: 1, seq: s.seq}
	}
	return nil
}

func (s *Store) versionLocked(ref docstore.Ref) uint64 {
	if d, ok := s.docs[ref]; ok {
		return d.version
	}
	return 0
}

func (s *Store) snapshot(ref docstore.Ref) ([]byte, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[ref]
	if !ok {
		return nil, 0
	}
	return d.data, d.version
}

type pendingWrite struct {
	data  []byte
	order int
}

type memTx struct {
	store  *Store
	reads  map[docstore.Ref]uint64
	writes map[docstore.Ref]*pendingWrite
}

// current returns the document as this transaction sees it, recording the read.
func (t *memTx) current(ref docstore.Ref) ([]byte, bool) {
	if w, ok := t.writes[ref]; ok {
		return w.data, true
	}
	data, version := t.store.snapshot(ref)
	if prev, seen := t.reads[ref]; !seen {
		t.reads[ref] = version
	} else if prev != version {
		// документ сменился между двумя чтениями внутри одной транзакции
		t.reads[ref] = ^uint64(0)
	}
	return data, version != 0
}

func (t *memTx) put(ref docstore.Ref, data []byte) {
	if w, ok := t.writes[ref]; ok {
		w.data = data
		return
	}
	t.writes[ref] = &pendingWrite{data: data, order: len(t.writes)}
}

func (t *memTx) Get(ctx context.Context, ref docstore.Ref, dst any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	data, ok := t.current(ref)
	if !ok {
		return false, nil
	}
	return true, docstore.Decode(data, dst)
}

func (t *memTx) Create(ctx context.Context, ref docstore.Ref, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.current(ref); ok {
		return errors.Wrapf(docstore.ErrAlreadyExists, "%s", ref)
	}
	b, err := docstore.Encode(doc)
	if err != nil {
		return err
	}
	t.put(ref, b)
	return nil
}

func (t *memTx) Set(ctx context.Context, ref docstore.Ref, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := docstore.Encode(doc)
	if err != nil {
		return err
	}
	t.put(ref, b)
	return nil
}

func (t *memTx) Merge(ctx context.Context, ref docstore.Ref, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, ok := t.current(ref)
	if !ok {
		return errors.Wrapf(docstore.ErrNotFound, "%s", ref)
	}
	merged, err := docstore.MergeJSON(data, fields)
	if err != nil {
		return err
	}
	t.put(ref, merged)
	return nil
}
