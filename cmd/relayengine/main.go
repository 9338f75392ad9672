package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sebas/relayengine/internal/banner"
	"github.com/sebas/relayengine/internal/logger"
	"github.com/sebas/relayengine/internal/relay/api"
	"github.com/sebas/relayengine/internal/relay/config"
	"github.com/sebas/relayengine/internal/relay/control"
	"github.com/sebas/relayengine/internal/relay/engine"
	"github.com/sebas/relayengine/internal/relay/metrics"
	"github.com/sebas/relayengine/internal/relay/ngcontrol"
	"github.com/sebas/relayengine/internal/relay/sipfront"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Initialize logger
	log := logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}

	if err := run(cfg, log); err != nil {
		slog.Error("Relay engine stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Relay engine stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	eng, err := engine.New(engine.Config{
		Shards:       cfg.Shards,
		Ports:        cfg.Ports,
		BindIP:       cfg.BindAddr(),
		Advertise:    cfg.AdvertiseAddr,
		BindTimeout:  cfg.BindTimeout,
		TickInterval: cfg.TickInterval,
		Logger:       log,
		Metrics:      m,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })

	ng := ngcontrol.NewServer(eng, log, m)
	g.Go(func() error { return ng.ListenAndServe(ctx, cfg.NGAddr) })

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
		}
		grpcServer := grpc.NewServer()
		control.Register(grpcServer, control.NewServer(eng, log, m))
		hs := health.NewServer()
		hs.SetServingStatus(control.ServiceName, healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(grpcServer, hs)

		slog.Info("gRPC server listening", "address", cfg.GRPCAddr)
		g.Go(func() error { return grpcServer.Serve(lis) })
		g.Go(func() error {
			<-ctx.Done()
			hs.Shutdown()
			grpcServer.GracefulStop()
			return nil
		})
	}

	if cfg.SIPAddr != "" {
		front, err := sipfront.New(eng, log, m)
		if err != nil {
			return err
		}
		defer front.Close()
		g.Go(func() error { return front.ListenAndServe(ctx, cfg.SIPAddr) })
	}

	if cfg.HTTPAddr != "" {
		srv := api.NewServer(cfg.HTTPAddr, eng, reg, log)
		g.Go(func() error { return srv.ListenAndServe(ctx) })
	}

	banner.Fprint(os.Stdout, "Relay Engine", []banner.ConfigLine{
		{Label: "NG control", Value: cfg.NGAddr},
		{Label: "gRPC", Value: cfg.GRPCAddr},
		{Label: "HTTP API", Value: cfg.HTTPAddr},
		{Label: "SIP", Value: cfg.SIPAddr},
		{Label: "Bind", Value: cfg.BindIP},
		{Label: "Advertise", Value: cfg.AdvertiseAddr},
		{Label: "RTP ports", Value: cfg.Ports.String()},
		{Label: "Shards", Value: strconv.Itoa(cfg.Shards)},
		{Label: "Log level", Value: logger.GetLevel()},
	})

	<-ctx.Done()
	slog.Info("Shutting down")
	return g.Wait()
}
