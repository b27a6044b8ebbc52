// Package bootstrap assembles the reconciliation graph shared by the API and the polling worker.
package bootstrap

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/paysync/internal/families"
	"github.com/angelmondragon/paysync/internal/notifications"
	"github.com/angelmondragon/paysync/internal/polling"
	"github.com/angelmondragon/paysync/internal/reconciliation"
	"github.com/angelmondragon/paysync/internal/transactions"
	"github.com/angelmondragon/paysync/pkg/config"
	"github.com/angelmondragon/paysync/pkg/db"
	"github.com/angelmondragon/paysync/pkg/logger"
	"github.com/angelmondragon/paysync/pkg/metrics"
	"github.com/angelmondragon/paysync/pkg/pubsub"
	"github.com/angelmondragon/paysync/pkg/redis"
	"github.com/angelmondragon/paysync/pkg/stripe"
)

// Components is the wired reconciliation graph.
type Components struct {
	Stripe         *stripe.Client
	PubSub         *pubsub.Client
	Transactions   transactions.Repository
	PollingRecords polling.Repository
	Reconciliation *reconciliation.Service
	Scheduler      *polling.Scheduler
	Registry       *prometheus.Registry

	ReconciliationMetrics *metrics.ReconciliationMetrics
}

// Build wires the gateway, repositories, side effects and scheduler. The mailer is only
// wired when a GCP project is configured; without it upgrades still apply.
func Build(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*Components, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, err
	}

	c := &Components{
		Stripe:                stripeClient,
		Transactions:          transactions.NewRepository(dbClient.DB()),
		PollingRecords:        polling.NewRepository(dbClient.DB()),
		Registry:              registry,
		ReconciliationMetrics: metrics.NewReconciliationMetrics(registry),
	}

	params := reconciliation.ServiceParams{
		Logger:       logg,
		Gateway:      stripeClient.Gateway(),
		Transactions: c.Transactions,
		Polling:      c.PollingRecords,
		Upgrader:     families.NewRepository(dbClient.DB()),
		Metrics:      c.ReconciliationMetrics,
		PollingDefaults: reconciliation.PollingDefaults{
			Interval:     cfg.Polling.Interval,
			MaxRetries:   cfg.Polling.MaxRetries,
			InitialDelay: cfg.Polling.InitialDelay,
		},
		DefaultCurrency: cfg.Stripe.DefaultCurrency,
	}

	if strings.TrimSpace(cfg.GCP.ProjectID) != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, err
		}
		c.PubSub = psClient
		mailer, err := notifications.NewMailer(logg, psClient.NotificationPublisher())
		if err != nil {
			_ = psClient.Close()
			return nil, err
		}
		params.Mailer = mailer
	} else {
		logg.Warn(ctx, "gcp project not configured; upgrade confirmation emails disabled")
	}

	svc, err := reconciliation.NewService(params)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Reconciliation = svc

	lock, err := polling.NewRedisLock(redisClient, cfg.Polling.LockTTL)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	scheduler, err := polling.NewScheduler(polling.SchedulerParams{
		Logger:       logg,
		Records:      c.PollingRecords,
		Transactions: c.Transactions,
		Reconciler:   svc,
		Lock:         lock,
		Metrics:      metrics.NewPollingMetrics(registry),
		Config: polling.Config{
			Interval:    cfg.Polling.Interval,
			BatchSize:   cfg.Polling.BatchSize,
			Concurrency: cfg.Polling.Concurrency,
			MaxRetries:  cfg.Polling.MaxRetries,
			Timeout:     cfg.Polling.Timeout,
			BackoffCap:  cfg.Polling.BackoffCap,
		},
	})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Scheduler = scheduler

	return c, nil
}

// Close releases the external clients owned by the graph.
func (c *Components) Close() error {
	if c == nil {
		return nil
	}
	var err error
	if c.PubSub != nil {
		err = multierr.Append(err, c.PubSub.Close())
	}
	return err
}
