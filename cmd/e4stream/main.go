// e4stream connects to an E4 streaming server, binds one wristband and
// republishes its physiological streams.
//
//	e4stream stream --device 9ff167 --subscribe acc,bvp,gsr --relay :8090
//	e4stream tag --device 9ff167 --tag-timeout 2m
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/mbocsi/e4stream/client"
	"github.com/mbocsi/e4stream/config"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return errors.New("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "stream":
		return runStream(ctx, args[1:])
	case "tag":
		return runTag(ctx, args[1:])
	case "version", "--version":
		fmt.Println("e4stream", version)
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: e4stream <command> [flags]

Commands:
  stream   stream samples into the relay, metrics and MCP front ends
  tag      wait for one button press and print its timestamp
  version  print the version

Run "e4stream <command> --help" for the flags of a command.
`)
}

// sessionFlags are shared by every command that opens a session.
type sessionFlags struct {
	configPath string
	device     string
	subscribe  []string
	host       string
	port       int
	timeout    time.Duration
	bufferSize int
	discover   bool
	logLevel   string
	logFormat  string
}

func (f *sessionFlags) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "", "path to a YAML config file")
	fs.StringVarP(&f.device, "device", "d", "", "device id to bind")
	fs.StringSliceVarP(&f.subscribe, "subscribe", "s", nil, "stream codes to subscribe to (acc, bvp, gsr, ibi, tmp, bat, tag)")
	fs.StringVar(&f.host, "host", "", "streaming server host")
	fs.IntVar(&f.port, "port", 0, "streaming server port")
	fs.DurationVar(&f.timeout, "timeout", 0, "read timeout for one receive")
	fs.IntVar(&f.bufferSize, "buffer-size", 0, "maximum bytes per receive")
	fs.BoolVar(&f.discover, "discover", false, "find the streaming server over mDNS")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "", "text or json")
}

// load reads the config file, if any, and applies the flags that were set on top of it.
func (f *sessionFlags) load(fs *pflag.FlagSet) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if fs.Changed("device") {
		cfg.Device.ID = f.device
	}
	if fs.Changed("subscribe") {
		cfg.Device.Subscriptions = f.subscribe
	}
	if fs.Changed("host") {
		cfg.Server.Host = f.host
	}
	if fs.Changed("port") {
		cfg.Server.Port = f.port
	}
	if fs.Changed("timeout") {
		cfg.Server.Timeout = f.timeout
	}
	if fs.Changed("buffer-size") {
		cfg.Server.BufferSize = f.bufferSize
	}
	if fs.Changed("discover") {
		cfg.Server.Discover = f.discover
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	return cfg, cfg.Validate()
}

// parseFlags parses args into fs. It reports done when help was requested.
func parseFlags(fs *pflag.FlagSet, args []string) (done bool, err error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	if fs.NArg() > 0 {
		return false, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return false, nil
}

func setupLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

// resolveServer replaces the configured host and port with a server found over mDNS.
func resolveServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if !cfg.Server.Discover {
		return nil
	}
	found, err := client.Discover(ctx, cfg.Server.DiscoverService, cfg.Server.DiscoverTimeout, logger)
	if err != nil {
		return fmt.Errorf("discover streaming server: %w", err)
	}
	cfg.Server.Host = found.Host
	cfg.Server.Port = found.Port
	return nil
}
