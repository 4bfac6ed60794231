package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/TradeBox/config"
	"github.com/BearBump/TradeBox/internal/broker/kafka"
	"github.com/BearBump/TradeBox/internal/integrations/mailer/smtpmail"
	"github.com/BearBump/TradeBox/internal/services/audit"
	"github.com/BearBump/TradeBox/internal/services/notifier"
	"github.com/BearBump/TradeBox/internal/storage/docstore"
	"github.com/BearBump/TradeBox/internal/storage/memdocs"
	"github.com/BearBump/TradeBox/internal/storage/pgdocs"
	"golang.org/x/sync/errgroup"
)

type eventConsumer interface {
	Consume(ctx context.Context, handler kafka.Handler) error
	Close() error
}

type workerFactories struct {
	newStore    func(cfg *config.Config) (st docstore.Store, closeFn func(), err error)
	newConsumer func(cfg *config.Config) eventConsumer
	newMailer   func(cfg *config.Config) notifier.Mailer
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStore: func(cfg *config.Config) (docstore.Store, func(), error) {
			if cfg.TradeBox.StoreMode == "memory" {
				return memdocs.New(), nil, nil
			}
			st, err := pgdocs.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newConsumer: func(cfg *config.Config) eventConsumer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewConsumer(brokers, orderEventsTopic(cfg), consumerGroup(cfg))
		},
		newMailer: func(cfg *config.Config) notifier.Mailer {
			s := cfg.SMTP
			return smtpmail.New(smtpmail.Config{
				Host:           s.Host,
				Port:           s.Port,
				Username:       s.Username,
				Password:       s.Password,
				FromAddress:    s.FromAddress,
				FromName:       s.FromName,
				HeloName:       s.HeloName,
				CommandTimeout: time.Duration(s.CommandTimeoutSeconds) * time.Second,
				SendTimeout:    time.Duration(s.SendTimeoutSeconds) * time.Second,
			})
		},
	}
}

func orderEventsTopic(cfg *config.Config) string {
	if cfg.Kafka.OrderEventsTopicName == "" {
		return "order.events"
	}
	return cfg.Kafka.OrderEventsTopicName
}

func consumerGroup(cfg *config.Config) string {
	if cfg.TradeBox.KafkaConsumerGroup == "" {
		return "notify-worker"
	}
	return cfg.TradeBox.KafkaConsumerGroup
}

func RunNotifyWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts workerHTTPOpts) error {
	st, closeFn, err := f.newStore(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	mailer := f.newMailer(cfg)
	if !mailer.Configured() {
		slog.Warn("smtp is not configured, notifications will be skipped")
	}

	w, err := notifier.New(mailer, audit.New(st))
	if err != nil {
		return err
	}

	consumer := f.newConsumer(cfg)
	defer func() { _ = consumer.Close() }()

	httpOpts.worker = w
	if httpOpts.httpAddr == "" {
		httpOpts.httpAddr = cfg.TradeBox.WorkerHTTPAddr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("notify worker started", "topic", orderEventsTopic(cfg), "group", consumerGroup(cfg))
		return consumer.Consume(gctx, w.HandleMessage)
	})
	g.Go(func() error {
		return runWorkerHTTPServer(gctx, httpOpts)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
