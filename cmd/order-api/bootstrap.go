package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/TradeBox/config"
	ordersapi "github.com/BearBump/TradeBox/internal/api/orders_api"
	"github.com/BearBump/TradeBox/internal/broker/kafka"
	"github.com/BearBump/TradeBox/internal/cache"
	"github.com/BearBump/TradeBox/internal/cache/rediscache"
	"github.com/BearBump/TradeBox/internal/integrations/carrier"
	"github.com/BearBump/TradeBox/internal/integrations/carrier/fake"
	"github.com/BearBump/TradeBox/internal/integrations/carrier/shipengine"
	"github.com/BearBump/TradeBox/internal/services/audit"
	"github.com/BearBump/TradeBox/internal/services/labels"
	"github.com/BearBump/TradeBox/internal/services/orders"
	"github.com/BearBump/TradeBox/internal/services/sequence"
	"github.com/BearBump/TradeBox/internal/storage/docstore"
	"github.com/BearBump/TradeBox/internal/storage/memdocs"
	"github.com/BearBump/TradeBox/internal/storage/pgdocs"
)

const (
	storeModePostgres = "postgres"
	storeModeMemory   = "memory"
)

// apiFactories: точки подмены инфраструктуры в тестах.
type apiFactories struct {
	newStore       func(cfg *config.Config) (st docstore.Store, ping pinger, closeFn func(), err error)
	newRedis       func(cfg *config.Config) (c cache.BytesCache, rl labels.RateLimiter, ping pinger, closeFn func())
	newEvents      func(cfg *config.Config) (ev orders.EventPublisher, closeFn func())
	newLabelClient func(cfg *config.Config) carrier.LabelClient
}

func defaultAPIFactories() apiFactories {
	return apiFactories{
		newStore: func(cfg *config.Config) (docstore.Store, pinger, func(), error) {
			switch cfg.TradeBox.StoreMode {
			case storeModeMemory:
				slog.Warn("using in-memory document store, data is lost on restart")
				return memdocs.New(), nil, nil, nil
			case "", storeModePostgres:
				st, err := openPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
				if err != nil {
					return nil, nil, nil, err
				}
				return st, st, st.Close, nil
			default:
				return nil, nil, nil, fmt.Errorf("unknown store_mode %q", cfg.TradeBox.StoreMode)
			}
		},
		newRedis: func(cfg *config.Config) (cache.BytesCache, labels.RateLimiter, pinger, func()) {
			if cfg.Redis.Host == "" {
				return nil, nil, nil, nil
			}
			rc := rediscache.New(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
			rl := rediscache.NewRateLimiterWithClient(rc.Client())
			return rc, rl, rc, func() { _ = rc.Close() }
		},
		newEvents: func(cfg *config.Config) (orders.EventPublisher, func()) {
			if cfg.Kafka.Host == "" {
				slog.Warn("kafka is not configured, order events are not published")
				return nil, nil
			}
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			p := kafka.NewProducer(brokers)
			return kafka.NewOrderEvents(p, orderEventsTopic(cfg)), func() { _ = p.Close() }
		},
		newLabelClient: func(cfg *config.Config) carrier.LabelClient {
			switch cfg.Labels.Provider {
			case "shipengine":
				return shipengine.New(cfg.Labels.BaseURL, cfg.Labels.APIKey, labelTimeout(cfg))
			default:
				return fake.New()
			}
		},
	}
}

func orderEventsTopic(cfg *config.Config) string {
	if cfg.Kafka.OrderEventsTopicName == "" {
		return "order.events"
	}
	return cfg.Kafka.OrderEventsTopicName
}

func labelTimeout(cfg *config.Config) time.Duration {
	if cfg.Labels.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(cfg.Labels.TimeoutSeconds) * time.Second
}

// buildOrderAPI wires services and returns the root handler plus a close func
// that releases everything opened along the way.
func buildOrderAPI(cfg *config.Config, swaggerPath string, f apiFactories) (http.Handler, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	add := func(fn func()) {
		if fn != nil {
			closers = append(closers, fn)
		}
	}

	st, stPing, closeStore, err := f.newStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	add(closeStore)

	bc, rl, redisPing, closeRedis := f.newRedis(cfg)
	add(closeRedis)

	events, closeEvents := f.newEvents(cfg)
	add(closeEvents)

	cacheTTL := time.Duration(cfg.TradeBox.OrderCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}

	auditWriter := audit.New(st)
	orderSvc := orders.New(st, sequence.New(cfg.TradeBox.OrderNumberPrefix), auditWriter, bc, events, orders.Config{
		TxMaxAttempts: cfg.TradeBox.TxMaxAttempts,
		CacheTTL:      cacheTTL,
	})

	w := cfg.Warehouse
	labelSvc := labels.New(f.newLabelClient(cfg), orderSvc, auditWriter, rl, labels.Config{
		ServiceCode: cfg.Labels.ServiceCode,
		Warehouse: carrier.Address{
			Name:          w.Name,
			CompanyName:   w.CompanyName,
			Phone:         w.Phone,
			AddressLine1:  w.AddressLine1,
			AddressLine2:  w.AddressLine2,
			CityLocality:  w.CityLocality,
			StateProvince: w.StateProvince,
			PostalCode:    w.PostalCode,
			CountryCode:   w.CountryCode,
		},
		Weight:             labelWeight(cfg.Labels),
		Dimensions:         labelDimensions(cfg.Labels),
		ValidateAddress:    cfg.Labels.ValidateAddress,
		LabelFormat:        cfg.Labels.LabelFormat,
		LabelLayout:        cfg.Labels.LabelLayout,
		Timeout:            labelTimeout(cfg),
		RateLimitPerMinute: cfg.Labels.RateLimitPerMinute,
	})

	submit, err := ordersapi.NewSubmitLimiter(cfg.TradeBox.SubmitRateLimit)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("submit_rate_limit: %w", err)
	}

	deps := map[string]pinger{}
	if stPing != nil {
		deps["postgres"] = stPing
	}
	if redisPing != nil {
		deps["redis"] = redisPing
	}

	api := ordersapi.New(orderSvc, labelSvc, auditWriter, submit)
	return newRouter(api, swaggerPath, deps), closeAll, nil
}

func labelWeight(c config.LabelsConfig) carrier.Weight {
	if c.WeightOunces <= 0 {
		return carrier.Weight{}
	}
	return carrier.Weight{Value: c.WeightOunces, Unit: "ounce"}
}

func labelDimensions(c config.LabelsConfig) carrier.Dimensions {
	if c.LengthInches <= 0 || c.WidthInches <= 0 || c.HeightInches <= 0 {
		return carrier.Dimensions{}
	}
	return carrier.Dimensions{Unit: "inch", Length: c.LengthInches, Width: c.WidthInches, Height: c.HeightInches}
}

func openPostgresWithRetry(connString string, wait time.Duration) (*pgdocs.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgdocs.New(connString)
		if err == nil {
			return st, nil
		}
		lastErr = err
		slog.Warn("postgres is not ready, retrying", "err", err)
		time.Sleep(1 * time.Second)
	}
	return nil, fmt.Errorf("postgres is not ready after %s: %w", wait, lastErr)
}

type orderAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    orderAPIOpts
	handler http.Handler
	closeFn func()
}

func mustBootstrapOrderAPI() *orderAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.TradeBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	handler, closeFn, err := buildOrderAPI(cfg, swaggerPath, defaultAPIFactories())
	if err != nil {
		panic(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &orderAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: orderAPIOpts{
			httpAddr:    httpAddr,
			swaggerPath: swaggerPath,
		},
		handler: handler,
		closeFn: closeFn,
	}
}

func (a *orderAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeFn != nil {
		a.closeFn()
	}
}

func (a *orderAPIApp) Run() error {
	return runOrderAPI(a.ctx, a.opts, a.handler)
}
