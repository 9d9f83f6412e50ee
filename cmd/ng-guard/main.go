package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2NetGuard/internal/alerter"
	"Go2NetGuard/internal/api"
	"Go2NetGuard/internal/capture"
	"Go2NetGuard/internal/classifier"
	"Go2NetGuard/internal/config"
	"Go2NetGuard/internal/events"
	"Go2NetGuard/internal/extract"
	"Go2NetGuard/internal/firewall"
	"Go2NetGuard/internal/flowlog"
	"Go2NetGuard/internal/guard"
	"Go2NetGuard/internal/metrics"
	"Go2NetGuard/internal/model"
	"Go2NetGuard/internal/notification"
	"Go2NetGuard/internal/sink"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ng-guard",
		Short: "Capture traffic, classify flows and block malicious sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the configuration file")

	if err := cmd.Execute(); err != nil {
		if firewall.IsPrivilegeError(err) {
			log.Fatalf("Cannot initialize firewall enforcement: %v (run as root or set firewall_enabled: false)", err)
		}
		log.Fatalf("ng-guard failed: %v", err)
	}
}

func run(configPath string) error {
	log.Println("Starting ng-guard...")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	log.SetLevel(level)
	log.Println("Configuration loaded successfully.")

	captureDuration, _ := cfg.CaptureDuration()
	reconcileInterval, _ := cfg.ReconcileInterval()
	blockTTL, _ := cfg.BlockTTL()
	cycleDeadline, _ := cfg.CycleDeadlineDuration()

	m := metrics.New()
	listeners := []firewall.Listener{m.Listener()}

	var publisher *events.Publisher
	if cfg.NATS.Enabled {
		if publisher, err = events.NewPublisher(cfg.NATS); err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer publisher.Close()
		listeners = append(listeners, publisher.Listener())
	}

	if cfg.Alerter.Enabled {
		interval, _ := cfg.AlerterInterval()
		a := alerter.NewAlerter(interval, notification.NewEmailNotifier(cfg.SMTP))
		a.Start()
		defer a.Stop()
		listeners = append(listeners, a.Listener())
	}

	var fw *firewall.Manager
	if cfg.FirewallEnabled {
		protected, err := protectedAddrs(cfg)
		if err != nil {
			return err
		}
		backend, err := newBackend(cfg.Firewall)
		if err != nil {
			return err
		}
		opts := []firewall.Option{firewall.WithProtected(protected), firewall.WithBlockTTL(blockTTL)}
		for _, l := range listeners {
			opts = append(opts, firewall.WithListener(l))
		}
		fw = firewall.NewManager(backend, cfg.NaughtyCount, opts...)
		log.Printf("Firewall enforcement enabled (naughty_count=%d, %d protected addresses)", cfg.NaughtyCount, len(protected))
	} else {
		log.Println("Firewall enforcement disabled by configuration")
	}

	fl, err := flowlog.Open(cfg.FlowLog.Path, cfg.FlowLog.MaxSizeMB, cfg.FlowLog.MaxBackups)
	if err != nil {
		return err
	}

	var writers []model.Writer
	var querier sink.Querier
	if cfg.ClickHouse.Enabled {
		w, err := sink.NewClickHouseWriter(cfg.ClickHouse)
		if err != nil {
			return err
		}
		writers = append(writers, w)
		if querier, err = sink.NewClickHouseQuerier(cfg.ClickHouse); err != nil {
			return err
		}
	}

	session, err := guard.NewSession(cfg.Capture.WorkDir, fl, fw, writers...)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.WithError(err).Warn("Session teardown incomplete")
		}
	}()

	clf, err := classifier.Load(cfg.ModelType, cfg.ModelPath)
	if err != nil {
		return err
	}
	extractor, err := extract.New(cfg)
	if err != nil {
		return err
	}
	capturer := capture.NewLiveCapturer(capture.Options{
		Interface:   cfg.Interface,
		SnapshotLen: cfg.Capture.SnapshotLen,
		Promiscuous: cfg.Capture.Promiscuous,
		Duration:    captureDuration,
		MaxPackets:  cfg.Capture.MaxPackets,
		BPFFilter:   cfg.Capture.BPFFilter,
	})

	g := guard.New(guard.Options{
		Interface:         cfg.Interface,
		MinRows:           cfg.Parser.MinRows,
		CycleDeadline:     cycleDeadline,
		ReconcileInterval: reconcileInterval,
		Metrics:           m,
	}, capturer, extractor, classifier.NewAdapter(clf), session)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.NATS.Enabled && fw != nil {
		ctrl, err := events.NewControlServer(cfg.NATS, fw)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer ctrl.Close()
		if err := ctrl.Start(); err != nil {
			return err
		}
	}

	if cfg.API.Enabled {
		shutdown, err := startAPI(cfg.API, g, fw, querier, m)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	if err := g.Run(ctx); err != nil {
		return fmt.Errorf("guard stopped: %w", err)
	}
	log.Println("Shutdown complete.")
	return nil
}

func newBackend(cfg config.FirewallConfig) (firewall.Backend, error) {
	switch cfg.Backend {
	case "memory":
		log.Println("Using in-memory firewall backend, no traffic will be dropped")
		return firewall.NewMemoryBackend(), nil
	default:
		return firewall.NewNFTablesBackend(cfg.Table)
	}
}

// protectedAddrs returns interface_data, or the interface's own addresses
// when it is empty.
func protectedAddrs(cfg *config.Config) ([]netip.Addr, error) {
	addrs, err := cfg.ProtectedAddrs()
	if err != nil || len(addrs) > 0 {
		return addrs, err
	}

	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("failed to look up interface %s: %w", cfg.Interface, err)
	}
	ifAddrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses of %s: %w", cfg.Interface, err)
	}
	for _, a := range ifAddrs {
		if prefix, err := netip.ParsePrefix(a.String()); err == nil {
			addrs = append(addrs, prefix.Addr())
		}
	}
	return addrs, nil
}

func startAPI(cfg config.APIConfig, g *guard.Guard, fw *firewall.Manager, querier sink.Querier, m *metrics.Metrics) (func(), error) {
	h := &api.Handler{Status: g, Querier: querier, Metrics: m.Handler()}
	if fw != nil {
		h.Firewall = fw
	}
	server := &http.Server{Addr: cfg.ListenAddr, Handler: api.NewRouter(h)}
	go func() {
		log.Printf("API server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Could not listen on %s: %v", server.Addr, err)
		}
	}()

	var health *api.HealthServer
	if cfg.GRPCListenAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
		if err != nil {
			server.Close()
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.GRPCListenAddr, err)
		}
		health = api.NewHealthServer()
		health.SetServing(true)
		go func() {
			if err := health.Serve(lis); err != nil {
				log.Errorf("gRPC health server stopped: %v", err)
			}
		}()
	}

	return func() {
		log.Println("API server shutting down...")
		if health != nil {
			health.Stop()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("API server forced to shutdown: %v", err)
		}
	}, nil
}
