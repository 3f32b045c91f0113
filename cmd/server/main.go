package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"perpx/api/grpcserver"
	"perpx/api/rest"
	"perpx/api/ws"
	"perpx/config"
	"perpx/domain/ledger"
	"perpx/domain/market"
	"perpx/domain/markprice"
	"perpx/events"
	"perpx/infra/feed"
	"perpx/infra/journal"
	"perpx/infra/logging"
	"perpx/infra/outbox"
	"perpx/infra/postgres"
	redisrelay "perpx/infra/redis"
	"perpx/jobs/broadcaster"
	"perpx/jobs/liquidator"
	"perpx/jobs/reconciler"
	"perpx/onchain"
	"perpx/service"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "perpx:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.App.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	// ---------------- Markets ----------------

	markets, err := market.LoadFile(cfg.App.MarketsFile)
	if err != nil {
		return err
	}
	log.Info("markets loaded", zap.Strings("markets", markets.IDs()))

	marks := markprice.NewCache(markets.IDs(), cfg.Liquidation.StaleAfter)

	// ---------------- On-chain ----------------

	ob, err := outbox.Open(cfg.Outbox.Dir)
	if err != nil {
		return err
	}
	defer ob.Close()

	// In-process escrow; a contract client would implement onchain.Ledger.
	chain := onchain.NewMemoryLedger(cfg.Chain.VaultAddress)
	coord := onchain.NewCoordinator(chain, ob, onchain.CoordinatorConfig{
		Vault:           cfg.Chain.VaultAddress,
		CollateralAsset: cfg.Chain.CollateralAsset,
		CallTimeout:     cfg.Sync.CallTimeout,
	}, log)

	// ---------------- Engine ----------------

	bus := events.NewBus(4096)
	defer bus.Close()

	engine := service.New(service.Config{
		InboxSize:    cfg.Engine.InboxSize,
		RecentOrders: cfg.Engine.RecentOrders,
	}, service.Deps{
		Markets:  markets,
		Accounts: ledger.NewAccounts(),
		Marks:    marks,
		Syncer:   coord,
		Settler:  coord,
		Events:   bus,
	}, log)

	// ---------------- Journal replay ----------------

	last, err := engine.Replay(cfg.Journal.Dir)
	if err != nil {
		return fmt.Errorf("journal replay: %w", err)
	}
	jr, err := journal.Open(journal.Config{Dir: cfg.Journal.Dir, SegmentBytes: cfg.Journal.SegmentBytes}, last)
	if err != nil {
		return err
	}
	defer jr.Close()
	engine.SetJournal(jr)

	engine.Start()
	defer engine.Stop()

	// ---------------- Background jobs ----------------

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	monitor := liquidator.New(engine, marks, cfg.Liquidation.Interval, log)
	g.Go(func() error { return monitor.Run(ctx) })

	recon := reconciler.New(coord, engine, cfg.Sync.RetryInterval, log)
	g.Go(func() error { return recon.Run(ctx) })

	switch cfg.Feed.Source {
	case "ws":
		f := feed.NewWebSocket(cfg.Feed.URL, marks, log)
		g.Go(func() error { return f.Run(ctx) })
	case "kafka":
		f := feed.NewKafka(cfg.Feed.KafkaBrokers, cfg.Feed.KafkaTopic, cfg.Feed.KafkaGroup, marks, log)
		g.Go(func() error { return f.Run(ctx) })
	}

	enc, err := events.NewEncoder(cfg.Kafka.Encoding)
	if err != nil {
		return err
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := broadcaster.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		bc := broadcaster.New(producer, cfg.Kafka.Topic, enc, log)
		defer bc.Close()
		sub := bus.Subscribe("")
		g.Go(func() error { return bc.Run(ctx, sub) })
	}

	if cfg.Redis.Addr != "" {
		client := redisrelay.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer client.Close()
		relay := redisrelay.NewRelay(client, events.JSONEncoder{}, log)
		sub := bus.Subscribe("")
		g.Go(func() error { return relay.Run(ctx, sub) })
	}

	if cfg.Postgres.DSN != "" {
		sink, err := postgres.Open(cfg.Postgres.DSN, log)
		if err != nil {
			return err
		}
		defer sink.Close()
		sub := bus.Subscribe("")
		g.Go(func() error { return sink.Run(ctx, sub) })
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	grpcSrv, health := grpcserver.Register(grpcserver.NewServer(engine, log))
	g.Go(func() error {
		log.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		health.Shutdown()
		grpcSrv.GracefulStop()
		return nil
	})

	// ---------------- HTTP ----------------

	router := rest.NewRouter(engine, log)
	router.Handle("/v1/stream", ws.NewHandler(bus, log)).Methods(http.MethodGet)
	httpSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	log.Info("perpx running", zap.Uint64("journalSeq", last))

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("perpx stopped", zap.Error(err))
	return err
}
