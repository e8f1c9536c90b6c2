package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/broker"
	"github.com/MrEthical07/goIdentity/internal/config"
	"github.com/MrEthical07/goIdentity/internal/logging"
	"github.com/MrEthical07/goIdentity/metrics"
	"github.com/MrEthical07/goIdentity/store"
)

type rootOptions struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "identityd",
		Short:        "Tenant-scoped identity and integration-event service",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML settings file")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to read (default .env)")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newServeCmd(opts),
		newKeygenCmd(),
		newPrincipalCmd(opts),
		newOutboxCmd(opts),
	)
	return cmd
}

// runtime is what every command except keygen opens first.
type runtime struct {
	settings *config.Settings
	log      *logrus.Logger
	db       *store.DB
	redis    *redis.Client
}

func (o *rootOptions) open(ctx context.Context, withRedis bool) (*runtime, error) {
	s, err := config.Load(o.configPath, o.envFiles...)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(s.Log.Level, s.Log.Format)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(ctx, store.Dialect(s.Database.Driver), s.Database.URL, store.Options{
		MaxOpenConns: s.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	rt := &runtime{settings: s, log: log, db: db}

	if withRedis && s.Redis.URL != "" {
		client, err := broker.Dial(ctx, s.Redis.URL, s.Redis.DialAttempts)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		rt.redis = client
	}
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if err := rt.db.Close(); err != nil {
		rt.log.WithError(err).Warn("closing store")
	}
}

// buildEngine wires the engine to the runtime's store, throttle and logger.
func (rt *runtime) buildEngine(m *metrics.Metrics, notify func()) (*goIdentity.Engine, error) {
	b := goIdentity.New().
		WithConfig(rt.settings.Engine).
		WithStore(rt.db).
		WithLogger(rt.log).
		WithMetrics(m).
		WithOutboxNotifier(notify)
	if rt.redis != nil {
		b = b.WithRedis(rt.redis)
	}
	if rt.settings.Engine.Audit.Enabled {
		b = b.WithAuditSink(goIdentity.NewLogrusSink(rt.log.WithField("component", "audit")))
	}
	engine, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return engine, nil
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			rt, err := opts.open(ctx, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			applied, err := store.Migrate(ctx, rt.db)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}
			for _, name := range applied {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}
