// Package main runs the rangedir coordinator: the host table that knows which
// shard owns which key range and hands out free hosts to splitting shards.
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│               Coordinator                │
//	├──────────────────────────────────────────┤
//	│  TCP line protocol (coordinator.port):   │
//	│    seekHost <range>                      │
//	│    seekKey <key>                         │
//	│    register <range>                      │
//	│    shutdown                              │
//	├──────────────────────────────────────────┤
//	│  Admin HTTP (coordinator.admin_addr):    │
//	│    GET  /health                          │
//	│    GET  /hosts                           │
//	│    POST /hosts                           │
//	├──────────────────────────────────────────┤
//	│  Background:                             │
//	│    HealthMonitor  probes linked shards   │
//	│    ZooKeeper      adds announced hosts   │
//	└──────────────────────────────────────────┘
//
// Example usage:
//
//	rangedir-coordinator -config rangedir.yaml \
//	  -hosts node2,node3,node4 -first-host node1
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/dreamware/rangedir/internal/admin"
	"github.com/dreamware/rangedir/internal/config"
	"github.com/dreamware/rangedir/internal/coordinator"
	"github.com/dreamware/rangedir/internal/membership"
	"github.com/dreamware/rangedir/internal/transport"
)

// logFatal is a variable so tests can intercept fatal errors.
var logFatal = log.Fatalf

type options struct {
	configPath string
	listen     string
	hosts      string
	firstHost  string
	adminAddr  string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("rangedir-coordinator", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "rangedir.yaml", "path to the YAML config file")
	fs.StringVar(&o.listen, "listen", "", "listen address (default :<coordinator.port>)")
	fs.StringVar(&o.hosts, "hosts", "", "comma separated free hosts, overrides coordinator.hosts")
	fs.StringVar(&o.firstHost, "first-host", "", "host running the initial a-z shard")
	fs.StringVar(&o.adminAddr, "admin", "", "admin HTTP address, overrides coordinator.admin_addr")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

// apply folds the command line into cfg.
func (o options) apply(cfg *config.Config) {
	if o.hosts != "" {
		cfg.Coordinator.Hosts = cfg.Coordinator.Hosts[:0]
		for _, h := range strings.Split(o.hosts, ",") {
			if h = strings.TrimSpace(h); h != "" {
				cfg.Coordinator.Hosts = append(cfg.Coordinator.Hosts, h)
			}
		}
	}
	if o.firstHost != "" {
		cfg.Coordinator.FirstHost = o.firstHost
	}
	if o.adminAddr != "" {
		cfg.Coordinator.AdminAddr = o.adminAddr
	}
}

func (o options) listenAddr(cfg config.Config) string {
	if o.listen != "" {
		return o.listen
	}
	return ":" + strconv.Itoa(cfg.Coordinator.Port)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil && !errors.Is(err, flag.ErrHelp) {
		logFatal("coordinator: %v", err)
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
	opts.apply(&cfg)
	logger := config.InitLogger(cfg.Logger, stderr)

	firstHost := cfg.Coordinator.FirstHost
	if firstHost == "" {
		firstHost = "localhost"
	}
	dir := coordinator.NewDirectory(cfg.Coordinator.Hosts, firstHost, logger)
	srv, err := coordinator.NewServer(dir, logger).Listen(opts.listenAddr(cfg), cfg.Coordinator.Workers)
	if err != nil {
		return err
	}
	logger.Info("coordinator listening", "addr", srv.Addr(), "hosts", len(cfg.Coordinator.Hosts), "first_host", firstHost)

	var health *coordinator.HealthMonitor
	if interval := cfg.Coordinator.HealthInterval(); interval > 0 {
		health = coordinator.NewHealthMonitor(interval, logger)
		shardPort := cfg.Shard.Port
		health.Start(ctx, func() []string {
			hosts := dir.LinkedHosts()
			addrs := make([]string, len(hosts))
			for i, h := range hosts {
				addrs[i] = transport.HostAddr(h, shardPort)
			}
			return addrs
		})
		defer health.Stop()
	}

	if zkc := cfg.Coordinator.ZooKeeper; len(zkc.Servers) > 0 {
		zk, err := membership.Connect(zkc.Servers, zkc.Root, zkc.SessionTimeout(), logger)
		if err != nil {
			_ = srv.Close()
			return err
		}
		defer zk.Close()
		go zk.Watch(ctx, func(host string) { dir.AddHost(host) })
	}

	if cfg.Coordinator.AdminAddr != "" {
		adm, err := admin.Start(cfg.Coordinator.AdminAddr, (&admin.CoordinatorHandler{
			Directory: dir,
			Health:    health,
			ShardPort: cfg.Shard.Port,
		}).Routes())
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
	logger.Info("coordinator stopped")
	return nil
}
