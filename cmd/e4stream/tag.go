package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/mbocsi/e4stream/client"
)

// runTag binds the device, waits for one button press and prints its timestamp.
func runTag(ctx context.Context, args []string) error {
	var flags sessionFlags
	var tagTimeout time.Duration

	fs := pflag.NewFlagSet("e4stream tag", pflag.ContinueOnError)
	flags.AddFlags(fs)
	fs.DurationVar(&tagTimeout, "tag-timeout", 0, "give up waiting after this long (0 waits until interrupted)")
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}

	cfg, err := flags.load(fs)
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	if err := resolveServer(ctx, cfg, logger); err != nil {
		return err
	}

	if tagTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tagTimeout)
		defer cancel()
	}

	session := client.NewSession(cfg.Session(), client.WithLogger(logger))
	if err := session.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if session.State() == client.StateDisconnected {
			return
		}
		if err := session.Disconnect(); err != nil {
			logger.Warn("Disconnect failed", "error", err)
		}
	}()
	if err := session.Resume(); err != nil {
		return err
	}

	ts, err := client.NewTagPoller(client.WithTagLogger(logger)).AwaitTag(ctx, session)
	if err != nil {
		return fmt.Errorf("waiting for tag: %w", err)
	}
	fmt.Printf("%.2f\n", ts)
	return nil
}
