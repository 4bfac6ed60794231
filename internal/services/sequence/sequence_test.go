package sequence

import (
	"context"
	"sync"
	"testing"

	"github.com/BearBump/TradeBox/internal/storage/docstore"
	"github.com/BearBump/TradeBox/internal/storage/memdocs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, st docstore.Store, a *Allocator) string {
	t.Helper()
	var num string
	err := st.RunInTx(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		var err error
		num, err = a.Next(ctx, tx)
		return err
	})
	require.NoError(t, err)
	return num
}

func TestAllocator_FirstNumberWhenCounterMissing(t *testing.T) {
	st := memdocs.New()
	a := New("")

	require.Equal(t, "SHC-00001", next(t, st, a))
	require.Equal(t, "SHC-00002", next(t, st, a))

	var c map[string]any
	_, err := st.Get(context.Background(), docstore.Doc(docstore.CollectionMetadata, docstore.DocCounters), &c)
	require.NoError(t, err)
	require.Equal(t, float64(3), c[CounterField])
}

func TestAllocator_ExistingCounterKeepsOtherFields(t *testing.T) {
	ctx := context.Background()
	st := memdocs.New()
	ref := docstore.Doc(docstore.CollectionMetadata, docstore.DocCounters)
	require.NoError(t, st.Create(ctx, ref, map[string]any{CounterField: 42, "other": "x"}))

	require.Equal(t, "TB-00042", next(t, st, New("TB")))

	var c map[string]any
	_, err := st.Get(ctx, ref, &c)
	require.NoError(t, err)
	require.Equal(t, float64(43), c[CounterField])
	require.Equal(t, "x", c["other"])
}

func TestAllocator_RolledBackTxDoesNotConsume(t *testing.T) {
	st := memdocs.New()
	a := New("SHC")

	boom := errors.New("boom")
	err := st.RunInTx(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		_, err := a.Next(ctx, tx)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.Equal(t, "SHC-00001", next(t, st, a))
}

func TestAllocator_Format(t *testing.T) {
	a := New("SHC")
	require.Equal(t, "SHC-00007", a.Format(7))
	require.Equal(t, "SHC-123456", a.Format(123456))
}

func TestAllocator_ConcurrentNumbersAreDistinct(t *testing.T) {
	st := memdocs.New()
	a := New("SHC")

	const n = 50
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				var num string
				err := st.RunInTx(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
					var err error
					num, err = a.Next(ctx, tx)
					return err
				})
				if errors.Is(err, docstore.ErrConflict) {
					continue
				}
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seen[num] = struct{}{}
				mu.Unlock()
				return
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
	require.Contains(t, seen, "SHC-00001")
	require.Contains(t, seen, "SHC-00050")
}
