package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync/atomic"

	"github.com/BearBump/TradeBox/internal/integrations/carrier"
)

const ProviderName = "fake"

// FakeClient: заглушка перевозчика для локального запуска без ключей ShipEngine.
// Номер отслеживания детерминирован по (ship_from, ship_to, reference1).
type FakeClient struct {
	seq atomic.Uint64
}

func New() *FakeClient { return &FakeClient{} }

func (f *FakeClient) Name() string { return ProviderName }

func (f *FakeClient) CreateLabel(ctx context.Context, req carrier.LabelRequest) (carrier.LabelResult, error) {
	if err := ctx.Err(); err != nil {
		return carrier.LabelResult{}, err
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(req.ShipFrom.PostalCode))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(req.ShipTo.PostalCode))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(req.Package.LabelMessages[0]))
	v := h.Sum32()

	n := f.seq.Add(1)
	id := fmt.Sprintf("fake-%d", n)
	return carrier.LabelResult{
		LabelID:        id,
		TrackingNumber: fmt.Sprintf("FAKE%010d", v),
		CarrierCode:    "fake_carrier",
		URL:            "https://labels.invalid/" + id + ".pdf",
	}, nil
}
