// Package sequence allocates human-readable order numbers from a single counter document.
package sequence

import (
	"context"
	"fmt"

	"github.com/BearBump/TradeBox/internal/storage/docstore"
	"github.com/pkg/errors"
)

const DefaultPrefix = "SHC"

// CounterField is the counter document field holding the next free number.
const CounterField = "nextOrderNumber"

type Allocator struct {
	prefix string
	ref    docstore.Ref
}

func New(prefix string) *Allocator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Allocator{
		prefix: prefix,
		ref:    docstore.Doc(docstore.CollectionMetadata, docstore.DocCounters),
	}
}

// Next must run inside the caller's transaction: the number is only taken
// if that transaction commits. Contention surfaces as docstore.ErrConflict.
func (a *Allocator) Next(ctx context.Context, tx docstore.Tx) (string, error) {
	var counters map[string]any
	found, err := tx.Get(ctx, a.ref, &counters)
	if err != nil {
		return "", errors.Wrap(err, "read counter")
	}

	current := int64(1)
	if found {
		if v, ok := counters[CounterField]; ok {
			n, err := toInt(v)
			if err != nil {
				return "", err
			}
			if n > 0 {
				current = n
			}
		}
	}

	if found {
		err = tx.Merge(ctx, a.ref, map[string]any{CounterField: current + 1})
	} else {
		err = tx.Set(ctx, a.ref, map[string]any{CounterField: current + 1})
	}
	if err != nil {
		return "", errors.Wrap(err, "write counter")
	}

	return a.Format(current), nil
}

// Format: PREFIX-00042; номера больше 99999 просто становятся длиннее.
func (a *Allocator) Format(n int64) string {
	return fmt.Sprintf("%s-%05d", a.prefix, n)
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, errors.Errorf("counter %s has unexpected type %T", CounterField, v)
	}
}
