package main

import (
	"context"
	"os"

	"github.com/spf13/pflag"

	"github.com/mbocsi/e4stream/app"
	"github.com/mbocsi/e4stream/broker"
	"github.com/mbocsi/e4stream/client"
	"github.com/mbocsi/e4stream/mcp"
	"github.com/mbocsi/e4stream/metrics"
	"github.com/mbocsi/e4stream/server"
)

func runStream(ctx context.Context, args []string) error {
	var flags sessionFlags
	var relayAddr string
	var enableMetrics, enableMCP bool
	var maxAttempts int

	fs := pflag.NewFlagSet("e4stream stream", pflag.ContinueOnError)
	flags.AddFlags(fs)
	fs.StringVar(&relayAddr, "relay", "", "serve the HTTP/WebSocket relay on this address")
	fs.BoolVar(&enableMetrics, "metrics", false, "expose Prometheus metrics on the relay at /metrics")
	fs.BoolVar(&enableMCP, "mcp", false, "serve MCP tools over stdio")
	fs.IntVar(&maxAttempts, "max-attempts", 0, "reconnect attempts before giving up (0 retries forever)")
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}

	cfg, err := flags.load(fs)
	if err != nil {
		return err
	}
	if fs.Changed("relay") {
		cfg.Relay.Addr = relayAddr
	}
	if fs.Changed("metrics") {
		cfg.Metrics.Enabled = enableMetrics
	}
	if fs.Changed("mcp") {
		cfg.MCP.Enabled = enableMCP
	}
	if fs.Changed("max-attempts") {
		cfg.Reconnect.MaxAttempts = maxAttempts
	}

	logger, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	if err := resolveServer(ctx, cfg, logger); err != nil {
		return err
	}

	sessionOpts := []client.Option{client.WithLogger(logger)}
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
		sessionOpts = append(sessionOpts, client.WithRecorder(m))
	}
	session := client.NewSession(cfg.Session(), sessionOpts...)
	b := broker.NewBroker()

	a := app.NewApp(app.NewPump(session, b, app.WithBackoff(cfg.Reconnect), app.WithPumpLogger(logger)))
	if cfg.Relay.Addr != "" {
		relayOpts := []server.Option{server.WithMaxClients(cfg.Relay.MaxClients)}
		if m != nil {
			relayOpts = append(relayOpts, server.WithMetricsHandler(m.Handler()))
		}
		a.Relay = server.NewRelayServer(cfg.Relay.Addr, b, session, relayOpts...)
	}
	if cfg.MCP.Enabled {
		a.MCP = mcp.NewMCPServer(b, session, version)
		a.Stdin, a.Stdout = os.Stdin, os.Stdout
	}

	logger.Info("Starting stream",
		"session", session.ID(),
		"device", cfg.Device.ID,
		"addr", cfg.Session().Addr(),
		"subscriptions", cfg.Device.Subscriptions,
	)
	return a.Start(ctx)
}
