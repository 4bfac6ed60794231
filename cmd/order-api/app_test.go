package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/BearBump/TradeBox/config"
	"github.com/BearBump/TradeBox/internal/cache"
	"github.com/BearBump/TradeBox/internal/integrations/carrier"
	"github.com/BearBump/TradeBox/internal/integrations/carrier/fake"
	"github.com/BearBump/TradeBox/internal/integrations/carrier/shipengine"
	"github.com/BearBump/TradeBox/internal/services/labels"
	"github.com/BearBump/TradeBox/internal/services/orders"
	"github.com/BearBump/TradeBox/internal/storage/docstore"
	"github.com/BearBump/TradeBox/internal/storage/memdocs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func writeSwagger(t *testing.T) string {
	t.Helper()
	sw := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))
	return sw
}

type pingStub struct{ err error }

func (p pingStub) Ping(context.Context) error { return p.err }

func memoryFactories(redisPing pinger) apiFactories {
	return apiFactories{
		newStore: func(*config.Config) (docstore.Store, pinger, func(), error) {
			return memdocs.New(), nil, nil, nil
		},
		newRedis: func(*config.Config) (cache.BytesCache, labels.RateLimiter, pinger, func()) {
			return nil, nil, redisPing, nil
		},
		newEvents: func(*config.Config) (orders.EventPublisher, func()) {
			return nil, nil
		},
		newLabelClient: func(*config.Config) carrier.LabelClient {
			return fake.New()
		},
	}
}

func TestBuildOrderAPI_Routes(t *testing.T) {
	sw := writeSwagger(t)
	h, closeFn, err := buildOrderAPI(&config.Config{}, sw, memoryFactories(nil))
	require.NoError(t, err)
	defer closeFn()

	srv := httptest.NewServer(h)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/swagger.json", "/api/v1/orders"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err, path)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Post(srv.URL+"/api/v1/orders", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBuildOrderAPI_ReadyzReportsDependency(t *testing.T) {
	h, closeFn, err := buildOrderAPI(&config.Config{}, writeSwagger(t), memoryFactories(pingStub{err: errors.New("down")}))
	require.NoError(t, err)
	defer closeFn()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "redis")
}

func TestBuildOrderAPI_BadSubmitRate(t *testing.T) {
	closed := false
	f := memoryFactories(nil)
	f.newStore = func(*config.Config) (docstore.Store, pinger, func(), error) {
		return memdocs.New(), nil, func() { closed = true }, nil
	}
	cfg := &config.Config{TradeBox: config.TradeBoxConfig{SubmitRateLimit: "often"}}

	_, _, err := buildOrderAPI(cfg, writeSwagger(t), f)
	require.Error(t, err)
	require.True(t, closed)
}

func TestDefaultAPIFactories(t *testing.T) {
	f := defaultAPIFactories()

	c := f.newLabelClient(&config.Config{Labels: config.LabelsConfig{Provider: "shipengine", APIKey: "k"}})
	_, ok := c.(*shipengine.Client)
	require.True(t, ok)

	c = f.newLabelClient(&config.Config{})
	_, ok = c.(*fake.FakeClient)
	require.True(t, ok)

	st, ping, _, err := f.newStore(&config.Config{TradeBox: config.TradeBoxConfig{StoreMode: storeModeMemory}})
	require.NoError(t, err)
	require.NotNil(t, st)
	require.Nil(t, ping)

	_, _, _, err = f.newStore(&config.Config{TradeBox: config.TradeBoxConfig{StoreMode: "mongo"}})
	require.Error(t, err)

	bc, rl, _, _ := f.newRedis(&config.Config{})
	require.Nil(t, bc)
	require.Nil(t, rl)

	ev, _ := f.newEvents(&config.Config{})
	require.Nil(t, ev)

	require.Equal(t, "order.events", orderEventsTopic(&config.Config{}))
}

func TestRunOrderAPI_SwaggerServed(t *testing.T) {
	sw := writeSwagger(t)
	h, closeFn, err := buildOrderAPI(&config.Config{}, sw, memoryFactories(nil))
	require.NoError(t, err)
	defer closeFn()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runOrderAPI(ctx, orderAPIOpts{
			httpAddr:    "127.0.0.1:0",
			swaggerPath: sw,
			onListen:    func(addr string) { addrCh <- addr },
		}, h)
	}()

	addr := <-addrCh
	resp, err := http.Get("http://" + addr + "/swagger.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), `"swagger"`)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestRunOrderAPI_MissingSwagger(t *testing.T) {
	err := runOrderAPI(context.Background(), orderAPIOpts{httpAddr: "127.0.0.1:0"}, http.NotFoundHandler())
	require.Error(t, err)

	err = runOrderAPI(context.Background(), orderAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "nope.json"),
	}, http.NotFoundHandler())
	require.Error(t, err)
}
