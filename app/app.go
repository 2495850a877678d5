package app

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mbocsi/e4stream/mcp"
	"github.com/mbocsi/e4stream/server"
)

// App runs the pump alongside the optional relay and MCP front ends.
type App struct {
	Pump  *Pump
	Relay *server.RelayServer
	MCP   *mcp.MCPServer

	Stdin  io.Reader
	Stdout io.Writer
}

func NewApp(pump *Pump) *App {
	return &App{Pump: pump}
}

// Start blocks until ctx is done or one component fails; the others are then stopped.
func (a *App) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.Relay != nil {
		g.Go(func() error { return a.Relay.Start(ctx) })
	}
	if a.MCP != nil {
		g.Go(func() error { return ignoreCanceled(a.MCP.Run(ctx, a.Stdin, a.Stdout)) })
	}
	g.Go(func() error { return a.Pump.Run(ctx) })

	err := g.Wait()
	slog.Info("Shut down", "error", err)
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
