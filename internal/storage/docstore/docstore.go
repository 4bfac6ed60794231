// Package docstore describes the transactional document store the order core runs on.
package docstore

import (
	"context"
	"encoding/json"
	"path"

	"github.com/pkg/errors"
)

const (
	CollectionOrders    = "orders"
	CollectionAuditLogs = "adminAuditLogs"
	CollectionMetadata  = "metadata"

	DocCounters = "counters"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	// ErrConflict: транзакция проиграла конкурентной; повторять всю транзакцию целиком.
	ErrConflict = errors.New("transaction conflict")
)

// UserOrders is the per-owner mirror collection.
func UserOrders(userID string) string {
	return path.Join("users", userID, "orders")
}

type Ref struct {
	Collection string
	ID         string
}

func Doc(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

type Snapshot struct {
	ID   string
	Data json.RawMessage
}

// Query lists a collection most-recent-first by document create time.
// StartAfter is the id of the last document of the previous page.
type Query struct {
	Limit      int
	StartAfter string
}

type Tx interface {
	Get(ctx context.Context, ref Ref, dst any) (bool, error)
	Create(ctx context.Context, ref Ref, doc any) error
	Set(ctx context.Context, ref Ref, doc any) error
	Merge(ctx context.Context, ref Ref, fields map[string]any) error
}

type Store interface {
	Get(ctx context.Context, ref Ref, dst any) (bool, error)
	Create(ctx context.Context, ref Ref, doc any) error
	Merge(ctx context.Context, ref Ref, fields map[string]any) error
	Query(ctx context.Context, collection string, q Query) ([]Snapshot, error)
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Encode приводит документ к JSON-объекту.
func Encode(doc any) ([]byte, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "encode document")
	}
	if len(b) == 0 || b[0] != '{' {
		return nil, errors.New("document must encode to a JSON object")
	}
	return b, nil
}

// MergeJSON applies a shallow top-level merge of fields onto the JSON object src.
func MergeJSON(src []byte, fields map[string]any) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(src, &m); err != nil {
		return nil, errors.Wrap(err, "decode document")
	}
	if m == nil {
		m = make(map[string]json.RawMessage, len(fields))
	}
	for k, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrapf(err, "encode field %s", k)
		}
		m[k] = b
	}
	out, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encode document")
	}
	return out, nil
}

func Decode(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.Wrap(err, "decode document")
	}
	return nil
}

// ClampLimit нормализует размер страницы.
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
