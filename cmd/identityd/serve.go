package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/goIdentity/broker"
	"github.com/MrEthical07/goIdentity/consumer"
	"github.com/MrEthical07/goIdentity/metrics"
	"github.com/MrEthical07/goIdentity/outbox"
	"github.com/MrEthical07/goIdentity/store"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, outbox dispatcher, retention job and directory consumer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before starting")
	return cmd
}

type pubsub interface {
	broker.Publisher
	broker.Subscriber
}

func serve(ctx context.Context, opts *rootOptions, migrate bool) error {
	rt, err := opts.open(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	s := rt.settings
	log := rt.log

	if migrate {
		applied, err := store.Migrate(ctx, rt.db)
		if err != nil {
			return err
		}
		log.WithField("applied", len(applied)).Info("migrations complete")
	}

	var bus pubsub
	if rt.redis != nil {
		host, _ := os.Hostname()
		streams, err := broker.NewRedisStreams(rt.redis, broker.RedisStreamsConfig{
			Stream:      s.Redis.Stream,
			Group:       s.Redis.Group,
			Consumer:    host,
			Block:       s.Redis.Block,
			ReclaimIdle: s.Redis.ReclaimIdle,
		})
		if err != nil {
			return err
		}
		if err := streams.EnsureGroup(ctx); err != nil {
			return err
		}
		bus = streams
	} else {
		log.Warn("no redis configured; events are delivered in process only")
		bus = broker.NewMemory()
	}

	m := metrics.New(s.Engine.Metrics)

	dispatcher, err := outbox.NewDispatcher(rt.db, bus, s.Engine.Outbox, outbox.WithLogger(log), outbox.WithMetrics(m))
	if err != nil {
		return err
	}
	retention, err := outbox.NewRetention(rt.db, s.Engine.Outbox, outbox.WithLogger(log), outbox.WithMetrics(m))
	if err != nil {
		return err
	}
	directory, err := consumer.New(rt.db, s.Engine.Consumer, consumer.WithLogger(log), consumer.WithMetrics(m))
	if err != nil {
		return err
	}
	consumer.RegisterDirectory(directory)

	engine, err := rt.buildEngine(m, dispatcher.Notify)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.HTTP.ShutdownTimeout)
		defer cancel()
		if err := engine.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("audit events lost at shutdown")
		}
	}()
	log.WithFields(logrus.Fields(engine.SecurityReport().Fields())).Info("security posture")

	srv := &http.Server{
		Addr:              s.HTTP.Addr,
		Handler:           newRouter(engine, s.HTTP, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return retention.Run(gctx) })
	g.Go(func() error { return directory.Run(gctx, bus) })
	g.Go(func() error {
		log.WithField("addr", s.HTTP.Addr).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("identityd stopped")
	return err
}
