// Package main is dirctl, the command line client of a rangedir directory.
//
// Usage:
//
//	dirctl [-config file] [-shard host:port] [-admin host:port] <command> [args]
//
// Commands:
//
//	put <key> <value>         bind key
//	lookup <key>              print the value bound to key
//	remove <key>              unbind key
//	load <file>               put every "key value" line of file
//	publish <name> <host:port>  bind name to a socket endpoint
//	resolve <name>            print the endpoint bound to name
//	status                    print the coordinator host table (needs -admin)
//	info                      print a shard's statistics (-admin is the shard admin address)
//	join <host>               add a free host to the coordinator (needs -admin)
//	announce <host>           announce host in ZooKeeper until interrupted
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/dreamware/rangedir/internal/cluster"
	"github.com/dreamware/rangedir/internal/config"
	"github.com/dreamware/rangedir/internal/endpoint"
	"github.com/dreamware/rangedir/internal/membership"
	"github.com/dreamware/rangedir/internal/protocol"
	"github.com/dreamware/rangedir/internal/router"
	"github.com/dreamware/rangedir/internal/shard"
	"github.com/dreamware/rangedir/internal/transport"
)

var errUsage = errors.New("usage: dirctl [-config file] [-shard addr] [-admin addr] <command> [args]")

// cli carries what every command needs.
type cli struct {
	cfg    config.Config
	shard  string
	admin  string
	stdout io.Writer

	rt *router.Router
}

type command struct {
	args int
	run  func(ctx context.Context, c *cli, args []string) error
}

var commands = map[string]command{
	"put":      {2, cmdPut},
	"lookup":   {1, cmdLookup},
	"remove":   {1, cmdRemove},
	"load":     {1, cmdLoad},
	"publish":  {2, cmdPublish},
	"resolve":  {1, cmdResolve},
	"status":   {0, cmdStatus},
	"info":     {0, cmdInfo},
	"join":     {1, cmdJoin},
	"announce": {1, cmdAnnounce},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("dirctl: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("dirctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "rangedir.yaml", "path to the YAML config file")
	shardAddr := fs.String("shard", "", "first shard host:port (default <coordinator.first_host>:<shard.port>)")
	adminAddr := fs.String("admin", "", "admin HTTP address for status, info and join")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}
	name, rest := fs.Arg(0), fs.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	if len(rest) != cmd.args {
		return fmt.Errorf("%s takes %d argument(s), got %d", name, cmd.args, len(rest))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	config.InitLogger(cfg.Logger, stderr)

	c := &cli{cfg: cfg, shard: *shardAddr, admin: *adminAddr, stdout: stdout}
	if c.shard == "" {
		host := cfg.Coordinator.FirstHost
		if host == "" {
			host = "localhost"
		}
		c.shard = transport.HostAddr(host, cfg.Shard.Port)
	}
	defer c.close(ctx)
	return cmd.run(ctx, c, rest)
}

func (c *cli) router() *router.Router {
	if c.rt == nil {
		c.rt = router.New(router.Config{
			FirstShard: c.shard,
			ShardPort:  c.cfg.Shard.Port,
			Dial:       c.cfg.Client.DialPolicy(),
		})
	}
	return c.rt
}

// close ends the router's shard sessions. The shards keep running.
func (c *cli) close(ctx context.Context) {
	if c.rt == nil {
		return
	}
	if err := c.rt.Close(ctx); err != nil {
		slog.Debug("closing shard sessions", "error", err)
	}
}

func (c *cli) adminURL(path string) (string, error) {
	if c.admin == "" {
		return "", errors.New("-admin is required")
	}
	return cluster.BaseURL(c.admin) + path, nil
}

func cmdPut(ctx context.Context, c *cli, args []string) error {
	if err := c.router().Put(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "ok")
	return nil
}

func cmdLookup(ctx context.Context, c *cli, args []string) error {
	v, err := c.router().Lookup(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, v)
	return nil
}

func cmdRemove(ctx context.Context, c *cli, args []string) error {
	if err := c.router().Remove(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "ok")
	return nil
}

// cmdLoad puts every "key value" line. Blank lines and lines starting with #
// are skipped; keys that are already bound are counted, not fatal.
func cmdLoad(ctx context.Context, c *cli, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	var loaded, bound int
	sc := bufio.NewScanner(f)
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return fmt.Errorf("%s:%d: want \"key value\"", args[0], lineNo)
		}
		err := c.router().Put(ctx, fields[0], fields[1])
		switch {
		case errors.Is(err, protocol.ErrBound):
			bound++
		case err != nil:
			return fmt.Errorf("%s:%d: %w", args[0], lineNo, err)
		default:
			loaded++
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "loaded %d, already bound %d\n", loaded, bound)
	return nil
}

func cmdPublish(ctx context.Context, c *cli, args []string) error {
	ep, err := endpoint.Parse(string(endpoint.Socket) + "=" + args[1])
	if err != nil {
		return err
	}
	if err := c.router().Put(ctx, args[0], ep.String()); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, ep)
	return nil
}

func cmdResolve(ctx context.Context, c *cli, args []string) error {
	v, err := c.router().Lookup(ctx, args[0])
	if err != nil {
		return err
	}
	ep, err := endpoint.Parse(v)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "%s %s\n", ep.Type, ep.Addr())
	return nil
}

func cmdStatus(ctx context.Context, c *cli, _ []string) error {
	url, err := c.adminURL("/hosts")
	if err != nil {
		return err
	}
	var resp cluster.HostsResponse
	if err := cluster.GetJSON(ctx, url, &resp); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tRANGE\tLINKED\tHEALTH")
	for _, h := range resp.Hosts {
		rng := h.Range
		if rng == "" {
			rng = "-"
		}
		health := h.Health
		if health == "" {
			health = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.Host, rng, strconv.FormatBool(h.Linked), health)
	}
	return tw.Flush()
}

func cmdInfo(ctx context.Context, c *cli, _ []string) error {
	url, err := c.adminURL("/info")
	if err != nil {
		return err
	}
	var info shard.ShardInfo
	if err := cluster.GetJSON(ctx, url, &info); err != nil {
		return err
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func cmdJoin(ctx context.Context, c *cli, args []string) error {
	url, err := c.adminURL("/hosts")
	if err != nil {
		return err
	}
	var resp cluster.AddHostResponse
	if err := cluster.PostJSON(ctx, url, cluster.AddHostRequest{Host: args[0]}, &resp); err != nil {
		return err
	}
	if resp.Added {
		fmt.Fprintf(c.stdout, "%s added\n", args[0])
	} else {
		fmt.Fprintf(c.stdout, "%s already known\n", args[0])
	}
	return nil
}

// cmdAnnounce holds a ZooKeeper session open so the ephemeral host node
// lives until dirctl is interrupted.
func cmdAnnounce(ctx context.Context, c *cli, args []string) error {
	zkc := c.cfg.Coordinator.ZooKeeper
	if len(zkc.Servers) == 0 {
		return errors.New("coordinator.zookeeper.servers is empty")
	}
	zk, err := membership.Connect(zkc.Servers, zkc.Root, zkc.SessionTimeout(), nil)
	if err != nil {
		return err
	}
	defer zk.Close()
	if err := zk.Announce(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "%s announced\n", args[0])
	<-ctx.Done()
	return nil
}
