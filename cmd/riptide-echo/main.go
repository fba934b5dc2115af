// Package main implements a riptide echo server. Every echo message (user
// message id 1) a client sends is echoed back on the same delivery mode;
// other message ids are logged and dropped. That makes it a
// convenient target for load and loss testing.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	riptide "github.com/rcarmo/go-riptide"
	"github.com/rcarmo/go-riptide/internal/config"
	"github.com/rcarmo/go-riptide/internal/logging"
	"github.com/rcarmo/go-riptide/message"
	"github.com/rcarmo/go-riptide/transport"
	"github.com/rcarmo/go-riptide/transport/udp"
	"github.com/rcarmo/go-riptide/transport/ws"
)

var appVersion = "dev" // injected at build time via -ldflags

// echoMessageID is the one user message id this server understands.
const echoMessageID = 1

func main() {
	opts, showedHelp := parseFlags()
	if showedHelp {
		return
	}
	if err := run(opts); err != nil {
		log.Fatalln(err)
	}
}

func parseFlags() (config.LoadOptions, bool) {
	var opts config.LoadOptions
	var showVersion bool
	flag.StringVar(&opts.ListenAddr, "listen", "", "listen address (host:port)")
	flag.StringVar(&opts.MetricsAddr, "metrics", "", "Prometheus metrics address, empty disables")
	flag.StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	flag.StringVar(&opts.Transport, "transport", "", "transport: udp or ws")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("riptide-echo %s\n", appVersion)
		return opts, true
	}
	return opts, false
}

func run(opts config.LoadOptions) error {
	cfg, err := config.LoadWithOverrides(opts)
	if err != nil {
		return err
	}
	logging.SetLevel(logging.ParseLevel(cfg.Logging.Level))

	var tr transport.Transport
	switch cfg.Server.Transport {
	case "ws":
		tr = ws.New()
	default:
		tr = udp.New()
	}

	coreCfg := riptide.Config{
		MaxMessageSize:     cfg.Core.MaxMessageSize,
		HeartbeatInterval:  cfg.Core.HeartbeatInterval,
		Timeout:            cfg.Core.Timeout,
		MaxSendAttempts:    cfg.Core.MaxSendAttempts,
		MaxConnectAttempts: cfg.Core.MaxConnectAttempts,
		MaxClients:         cfg.Server.MaxClients,
	}
	var registry *prometheus.Registry
	if cfg.Server.MetricsAddr != "" {
		registry = prometheus.NewRegistry()
		coreCfg.MetricsRegistry = registry
	}

	server := riptide.NewServer(tr, coreCfg)
	server.OnClientConnected = func(c *riptide.Connection) {
		logging.Info("client %d joined from %s", c.ID(), c.Addr())
	}
	server.OnClientDisconnected = func(id uint16, reason riptide.DisconnectReason) {
		logging.Info("client %d left: %s", id, reason)
	}
	server.Handle(echoMessageID, func(fromID uint16, m *message.Message) {
		payload, err := m.ReadBytes()
		if err != nil {
			logging.Warn("client %d sent a malformed echo: %v", fromID, err)
			return
		}
		var reply *message.Message
		if m.Header() == message.HeaderReliable {
			reply = server.NewReliable(echoMessageID)
		} else {
			reply = server.NewUnreliable(echoMessageID)
		}
		if err := reply.WriteBytes(payload); err != nil {
			logging.Warn("echo to client %d: %v", fromID, err)
			reply.Release()
			return
		}
		server.Send(reply, fromID)
	})

	if err := server.Start(cfg.Server.ListenAddr); err != nil {
		return err
	}
	logging.Info("riptide-echo %s serving %s on %s", appVersion, cfg.Server.Transport, cfg.Server.ListenAddr)

	if registry != nil {
		go serveMetrics(cfg.Server.MetricsAddr, registry)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Server.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			server.Tick()
		case sig := <-stop:
			logging.Info("received %s, shutting down", sig)
			return server.Shutdown()
		}
	}
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	logging.Info("metrics on http://%s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logging.Error("metrics server: %v", err)
	}
}
