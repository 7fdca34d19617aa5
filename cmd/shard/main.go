// Package main runs one rangedir shard: the in-memory store for a single key
// range that splits itself in two once it holds too many keys.
//
// A shard starts in one of three ways:
//
//	┌───────────────┬────────────────────────────────────────────────┐
//	│ initial       │ -range a-z; the coordinator already lists it   │
//	│ spawned       │ started by a splitting shard with -range x-y;  │
//	│               │ registers before accepting connections          │
//	│ standalone    │ -standalone; owns every key, never splits       │
//	└───────────────┴────────────────────────────────────────────────┘
//
// Configuration comes from the YAML file named by -config, overridden by
// RANGEDIR_* environment variables and then by flags.
//
// Example usage:
//
//	# first shard on node1
//	rangedir-shard -config rangedir.yaml -coordinator coord:55353
//
//	# single process, no coordinator
//	rangedir-shard -standalone -listen :55252
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dreamware/rangedir/internal/admin"
	"github.com/dreamware/rangedir/internal/client"
	"github.com/dreamware/rangedir/internal/config"
	"github.com/dreamware/rangedir/internal/keyrange"
	"github.com/dreamware/rangedir/internal/launcher"
	"github.com/dreamware/rangedir/internal/shard"
)

// logFatal is a variable so tests can intercept fatal errors.
var logFatal = log.Fatalf

type options struct {
	configPath  string
	listen      string
	coordinator string
	rng         string
	standalone  bool
	adminAddr   string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("rangedir-shard", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "rangedir.yaml", "path to the YAML config file")
	fs.StringVar(&o.listen, "listen", "", "address to serve on (default :<shard.port>)")
	fs.StringVar(&o.coordinator, "coordinator", "", "coordinator host:port (default from config)")
	fs.StringVar(&o.rng, "range", keyrange.Full.String(), "key range owned at start")
	fs.BoolVar(&o.standalone, "standalone", false, "run without a coordinator")
	fs.StringVar(&o.adminAddr, "admin", "", "admin HTTP address, overrides shard.admin_addr")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

// bindAddr turns the advertised address into the local bind address. A
// spawned shard is told "node2:55252" but listens on every interface.
func bindAddr(listen string, port int) string {
	if listen == "" {
		return ":" + strconv.Itoa(port)
	}
	if _, p, err := net.SplitHostPort(listen); err == nil {
		return ":" + p
	}
	return ":" + strconv.Itoa(port)
}

func newLauncher(cfg config.Config, logger *slog.Logger) launcher.Launcher {
	if cfg.Launch.Mode == "exec" {
		return &launcher.Exec{Binary: cfg.Launch.Binary, ConfigPath: cfg.Launch.ConfigPath, Logger: logger}
	}
	return &launcher.SSH{
		User:       cfg.Launch.User,
		Dir:        cfg.Launch.Dir,
		Binary:     cfg.Launch.Binary,
		ConfigPath: cfg.Launch.ConfigPath,
		Logger:     logger,
	}
}

// buildShard assembles the shard and, unless standalone, its coordinator
// client. The returned close function releases the client.
func buildShard(cfg config.Config, opts options, logger *slog.Logger) (*shard.Server, func(), error) {
	r, err := keyrange.Parse(opts.rng)
	if err != nil {
		return nil, nil, fmt.Errorf("-range: %w", err)
	}
	scfg := shard.Config{
		Range:     r,
		SplitSize: cfg.Shard.SplitSize,
		ShardPort: cfg.Shard.Port,
		Dial:      cfg.Client.DialPolicy(),
		Logger:    logger,
	}
	if opts.standalone {
		return shard.New(scfg), func() {}, nil
	}

	coordAddr := opts.coordinator
	if coordAddr == "" {
		coordAddr = cfg.CoordinatorEndpoint()
	}
	cc := client.NewCoordinatorClient(coordAddr, cfg.Client.DialPolicy(), logger)
	scfg.Coordinator = cc
	scfg.CoordinatorAddr = coordAddr
	scfg.Launcher = newLauncher(cfg, logger)
	return shard.New(scfg), func() { _ = cc.Close() }, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil && !errors.Is(err, flag.ErrHelp) {
		logFatal("shard: %v", err)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.adminAddr != "" {
		cfg.Shard.AdminAddr = opts.adminAddr
	}
	logger := config.InitLogger(cfg.Logger, stderr)

	s, release, err := buildShard(cfg, opts, logger)
	if err != nil {
		return err
	}
	defer release()

	// The initial shard is pre-linked on the coordinator.
	if !opts.standalone && !s.Range().Equal(keyrange.Full) {
		if err := s.Register(ctx); err != nil {
			return fmt.Errorf("register %s: %w", s.Range(), err)
		}
	}

	srv, err := s.Listen(bindAddr(opts.listen, cfg.Shard.Port), cfg.Shard.Workers)
	if err != nil {
		return err
	}
	logger.Info("shard listening", "addr", srv.Addr(), "range", s.Range().String(), "state", s.State())

	if cfg.Shard.AdminAddr != "" {
		adm, err := admin.Start(cfg.Shard.AdminAddr, (&admin.ShardHandler{Shard: s}).Routes())
		if err != nil {
			_ = srv.Close()
			return err
		}
		defer func() {
			if err := adm.Stop(); err != nil {
				logger.Warn("admin stop", "error", err)
			}
		}()
	}

	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("shard stopped", "range", s.Range().String(), "keys", s.Store().Len())
	return nil
}
