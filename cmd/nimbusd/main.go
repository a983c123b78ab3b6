// Command nimbusd runs a standalone actor system node: it opens the
// directory/backoff store, starts the guardian system, wires the metrics
// collector and its exporters, exposes the local/worker/remote
// transports, and serves the operational MCP admin surface.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btclog/v2"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nimbus-actors/nimbus/internal/actor"
	"github.com/nimbus-actors/nimbus/internal/build"
	"github.com/nimbus-actors/nimbus/internal/directory"
	"github.com/nimbus-actors/nimbus/internal/echoactor"
	"github.com/nimbus-actors/nimbus/internal/mcpadmin"
	"github.com/nimbus-actors/nimbus/internal/metrics"
	"github.com/nimbus-actors/nimbus/internal/store"
	"github.com/nimbus-actors/nimbus/internal/supervisor"
	"github.com/nimbus-actors/nimbus/internal/system"
	"github.com/nimbus-actors/nimbus/internal/transport"
)

func main() {
	var (
		node           = flag.String("node", "local", "This process's node name, stamped into spawned addresses")
		dbPath         = flag.String("db", "~/.nimbus/nimbus.db", "Path to SQLite database for the directory and backoff state")
		metricsAddr    = flag.String("metrics", ":9190", "Prometheus metrics listen address (empty to disable)")
		workerAddr     = flag.String("worker", ":8080", "WebSocket worker transport listen address (empty to disable)")
		grpcAddr       = flag.String("grpc", "localhost:10190", "gRPC remote transport listen address (empty to disable)")
		enableMCP      = flag.Bool("mcp", false, "Enable the MCP stdio admin transport")
		logDir         = flag.String("log-dir", "~/.nimbus/logs", "Directory for log files (empty to disable file logging)")
		maxLogFiles    = flag.Int("max-log-files", build.DefaultMaxLogFiles, "Maximum number of rotated log files to keep")
		maxLogFileSize = flag.Int("max-log-file-size", build.DefaultMaxLogFileSize, "Maximum log file size in MB before rotation")
	)
	flag.Parse()

	expandHome := func(path string) string {
		expanded := os.ExpandEnv(path)
		if expanded == path && len(path) > 0 && path[0] == '~' {
			home, err := os.UserHomeDir()
			if err != nil {
				log.Fatalf("failed to get home directory: %v", err)
			}
			expanded = home + path[1:]
		}
		return expanded
	}

	dbPathExpanded := expandHome(*dbPath)
	logDirExpanded := expandHome(*logDir)

	var logRotator *build.RotatingLogWriter
	if logDirExpanded != "" {
		logRotator = build.NewRotatingLogWriter()
		err := logRotator.InitLogRotator(&build.LogRotatorConfig{
			LogDir:         logDirExpanded,
			MaxLogFiles:    *maxLogFiles,
			MaxLogFileSize: *maxLogFileSize,
			Filename:       "nimbusd.log",
		})
		if err != nil {
			log.Printf("failed to init log rotator: %v (continuing without file logging)", err)
			logRotator = nil
		} else {
			defer logRotator.Close()

			multiWriter := io.MultiWriter(os.Stderr, logRotator)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags)
		}
	}

	log.Printf("nimbusd version %s commit=%s go=%s", build.Version(), commitInfo(), build.GoVersion)

	// Fan every subsystem's btclog output out to the console and, if
	// enabled, the rotating log file.
	var handlers []btclog.Handler
	handlers = append(handlers, btclog.NewDefaultHandler(os.Stderr))
	if logRotator != nil {
		handlers = append(handlers, btclog.NewDefaultHandler(logRotator))
		log.Printf("log file rotation enabled: dir=%s max_files=%d max_size=%dMB",
			logDirExpanded, *maxLogFiles, *maxLogFileSize)
	}
	combined := build.NewHandlerSet(handlers...)
	rootLogger := btclog.NewSLogger(combined)

	actor.UseLogger(rootLogger.WithPrefix("ACTR"))
	system.UseLogger(rootLogger.WithPrefix("SYST"))
	directory.UseLogger(rootLogger.WithPrefix("DIRY"))
	store.UseLogger(rootLogger.WithPrefix("STOR"))
	metrics.UseLogger(rootLogger.WithPrefix("MTRC"))

	backingStore, err := store.Open(store.Config{DatabaseFileName: dbPathExpanded})
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer backingStore.Close()

	sys := system.New(system.Config{
		Node: *node,
		Directory: directory.Config{
			DefaultTTL:      5 * time.Minute,
			MaxCacheSize:    10_000,
			CleanupInterval: 30 * time.Second,
			Store:           backingStore,
		},
		Backoff: supervisor.BackoffPolicy{
			Kind:         supervisor.BackoffExponential,
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sys.Shutdown(shutdownCtx); err != nil {
			log.Printf("actor system shutdown incomplete: %v", err)
		}
	}()

	// Collector samples processing latency and queue depth from the
	// interceptor pipeline, independent of which transport delivered
	// the message.
	collector := metrics.NewCollector(metrics.Config{
		ExportInterval: 15 * time.Second,
		QueueDepth: func(addr actor.Address) (int, bool) {
			inst, ok := sys.Lookup(addr)
			if !ok {
				return 0, false
			}
			return inst.MailboxStats().Size, true
		},
	})
	sys.Registry().Register(collector.Interceptor("metrics", 0))

	promExporter := metrics.NewPrometheusExporter("nimbus")
	collector.AddExporter(promExporter.Export)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(promExporter)

	logExporter := metrics.NewLoggingInterceptor(metrics.LoggingConfig{
		Logger: rootLogger.WithPrefix("MTRC"),
	})
	sys.Registry().Register(logExporter.Interceptor("metrics-log", 1))
	logExporter.Run()
	defer logExporter.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector.Run()
	defer collector.Stop()

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			log.Printf("metrics server listening on %s", *metricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server error: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	localTransport := transport.NewLocal(sys)

	selfTestAddr := actor.NewAddress(*node, "echo", "self-test")
	if _, err := sys.Spawn(selfTestAddr, echoactor.New()); err != nil {
		log.Printf("self-test actor spawn failed: %v", err)
	} else if err := localTransport.Send(ctx, selfTestAddr, actor.NewEnvelope("PING", nil)); err != nil {
		log.Printf("self-test PING over local transport failed: %v", err)
	} else {
		log.Println("local transport self-test PING delivered")
	}

	var workerTransport *transport.Worker
	if *workerAddr != "" {
		workerTransport = transport.NewWorker()
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			if err := workerTransport.Upgrade(w, r, *node); err != nil {
				log.Printf("worker upgrade failed: %v", err)
			}
		})
		workerSrv := &http.Server{Addr: *workerAddr, Handler: mux}
		go func() {
			log.Printf("worker transport listening on %s", *workerAddr)
			if err := workerSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("worker transport error: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = workerSrv.Shutdown(shutdownCtx)
		}()
		go forwardInbound(ctx, sys, workerTransport.Receive())
	}

	var remoteTransport *transport.Remote
	if *grpcAddr != "" {
		remoteTransport = transport.NewRemote(func(peerNode string) (string, error) {
			// Single-node deployments never dial a peer; multi-node
			// operators supply a real resolver here (e.g. backed by
			// the directory's node registry or a service discovery
			// client).
			return peerNode, nil
		})

		lis, err := net.Listen("tcp", *grpcAddr)
		if err != nil {
			log.Fatalf("failed to listen for gRPC: %v", err)
		}
		go func() {
			log.Printf("remote transport listening on %s", *grpcAddr)
			if err := remoteTransport.Serve(lis); err != nil {
				log.Printf("remote transport error: %v", err)
			}
		}()
		defer remoteTransport.Close()
		go forwardInbound(ctx, sys, remoteTransport.Receive())
	}

	adminServer := mcpadmin.NewServer(mcpadmin.Config{
		System: sys,
		Echo:   echoactor.New,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received %v, initiating graceful shutdown (send again to force exit)...", sig)
		cancel()

		sig = <-sigCh
		log.Printf("received %v again, forcing immediate exit", sig)
		os.Exit(1)
	}()

	if *enableMCP {
		log.Println("starting nimbusd MCP admin server on stdio")
		if err := adminServer.Run(ctx, &sdkmcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			log.Fatalf("admin server error: %v", err)
		}
	} else {
		log.Println("running without MCP stdio (pass -mcp to enable)")
		<-ctx.Done()
	}
}

// forwardInbound re-delivers envelopes a transport received from a remote
// peer into the local system, so spawned actors observe traffic from peers
// the same way they observe local Tell/Ask calls.
func forwardInbound(ctx context.Context, sys *system.System, inbound <-chan transport.InboundEnvelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			if err := sys.Tell(ctx, msg.To, msg.Env); err != nil {
				log.Printf("failed to deliver inbound envelope to %s: %v", msg.To.Path(), err)
			}
		}
	}
}

// commitInfo returns the best available commit identifier: the ldflags-
// stamped build.Commit if set, otherwise the VCS revision the Go
// toolchain embeds automatically, falling back to "dev".
func commitInfo() string {
	if build.Commit != "" {
		return build.Commit
	}
	if hash := build.CommitHash(); hash != "" {
		return hash
	}
	return "dev"
}
