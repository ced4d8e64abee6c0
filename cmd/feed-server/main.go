// Command feed-server runs the fleet simulation and serves its live location
// feed over HTTP, WebSocket and gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/vehicle-feed-simulator/internal/config"
	"github.com/signalsfoundry/vehicle-feed-simulator/internal/feed"
	"github.com/signalsfoundry/vehicle-feed-simulator/internal/fleet"
	"github.com/signalsfoundry/vehicle-feed-simulator/internal/logging"
	"github.com/signalsfoundry/vehicle-feed-simulator/internal/observability"
	"github.com/signalsfoundry/vehicle-feed-simulator/internal/sim/state"
	"github.com/signalsfoundry/vehicle-feed-simulator/kb"
	"github.com/signalsfoundry/vehicle-feed-simulator/timectrl"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "feed-server: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpLis, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.Server.HTTPAddr), logging.Err(err))
		os.Exit(1)
	}

	var grpcLis net.Listener
	if cfg.Server.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			_ = httpLis.Close()
			log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Server.GRPCAddr), logging.Err(err))
			os.Exit(1)
		}
	}

	if err := run(ctx, cfg, log, httpLis, grpcLis); err != nil {
		log.Error(ctx, "feed server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires the simulation to its transports and blocks until ctx is done or
// a server fails. grpcLis may be nil to disable the gRPC surface.
func run(ctx context.Context, cfg config.Config, log logging.Logger, httpLis, grpcLis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.Observability(), log)
	if err != nil {
		return fmt.Errorf("initialising tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	var (
		feedMetrics *observability.FeedCollector
		simMetrics  *observability.SimCollector
	)
	if cfg.Metrics.Enabled {
		if feedMetrics, err = observability.NewFeedCollector(nil); err != nil {
			return fmt.Errorf("initialising feed metrics: %w", err)
		}
		if simMetrics, err = observability.NewSimCollector(nil); err != nil {
			return fmt.Errorf("initialising simulation metrics: %w", err)
		}
	}

	fs, err := buildFleetState(ctx, log, simMetrics)
	if err != nil {
		return err
	}

	var hubOpts []feed.HubOption
	srvOpts := []feed.ServerOption{feed.WithKeepalive(cfg.Server.WSKeepalive)}
	if feedMetrics != nil {
		hubOpts = append(hubOpts, feed.WithHubMetrics(feedMetrics))
		srvOpts = append(srvOpts, feed.WithFeedMetrics(feedMetrics))
	}
	hub := feed.NewHub(log, hubOpts...)

	httpSrv := &http.Server{
		Handler:           feed.NewServer(fs, hub, log, srvOpts...).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var grpcSrv *grpc.Server
	if grpcLis != nil {
		grpcSrv = newGRPCServer(log, feedMetrics)
		feed.RegisterLocationFeedServer(grpcSrv, feed.NewLocationFeedService(fs, hub, log))
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info(ctx, "serving location feed over HTTP", logging.String("addr", httpLis.Addr().String()))
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if grpcSrv != nil {
		go func() {
			log.Info(ctx, "serving location feed over gRPC", logging.String("addr", grpcLis.Addr().String()))
			if err := grpcSrv.Serve(grpcLis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	mode := timectrl.RealTime
	if cfg.Simulation.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(fs.StartTime(), cfg.Simulation.TickInterval, mode)

	simCtx, cancelSim := context.WithCancel(ctx)
	defer cancelSim()
	simDone := runSimLoop(simCtx, tc, fs, hub)
	log.Info(ctx, "simulation started",
		logging.String("mode", mode.String()),
		logging.Duration("tick", tc.Tick),
		logging.Bool("metrics_enabled", cfg.Metrics.Enabled),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	log.Info(context.Background(), "shutting down feed server", logging.Int64("ticks", int64(fs.TickCount())))
	cancelSim()
	<-simDone
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "http shutdown incomplete", logging.Err(err))
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	return runErr
}

func buildFleetState(ctx context.Context, log logging.Logger, simMetrics *observability.SimCollector) (*state.FleetState, error) {
	path, err := fleet.DefaultPath()
	if err != nil {
		return nil, fmt.Errorf("loading route: %w", err)
	}

	store := kb.NewKnowledgeBase()
	unsubscribe := store.Subscribe(func(ev kb.Event) {
		log.Info(ctx, "vehicle registered",
			logging.String("vehicle_id", ev.Vehicle.ID),
			logging.String("name", ev.Vehicle.Name),
			logging.Float64("speed_factor", ev.Vehicle.SpeedFactor),
			logging.Duration("start_delay", ev.Vehicle.StartDelay),
		)
	})
	defer unsubscribe()

	if err := fleet.LoadDefaults(store); err != nil {
		return nil, fmt.Errorf("loading fleet: %w", err)
	}

	var opts []state.FleetStateOption
	if simMetrics != nil {
		opts = append(opts, state.WithMetricsRecorder(simMetrics))
	}
	return state.NewFleetState(path, store, time.Now(), log, opts...)
}

func newGRPCServer(log logging.Logger, metrics *observability.FeedCollector) *grpc.Server {
	unary := []grpc.UnaryServerInterceptor{
		feed.RequestIDUnaryServerInterceptor(log),
		feed.TracingUnaryServerInterceptor(),
	}
	stream := []grpc.StreamServerInterceptor{
		feed.RequestIDStreamServerInterceptor(log),
		feed.TracingStreamServerInterceptor(),
	}
	if metrics != nil {
		unary = append(unary, metrics.UnaryServerInterceptor())
		stream = append(stream, metrics.StreamServerInterceptor())
	}
	return grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	)
}

// runSimLoop advances the fleet on every controller tick and broadcasts the
// resulting snapshot. The returned channel closes once the loop has stopped.
func runSimLoop(ctx context.Context, tc *timectrl.TimeController, fs *state.FleetState, hub *feed.Hub) <-chan struct{} {
	tc.AddListener(func(now time.Time) {
		hub.PublishSnapshot(fs.RunTick(now))
	})
	return tc.Start(ctx, 0)
}
