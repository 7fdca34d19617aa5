// Package launcher starts shard processes for the upper half of a split.
//
// The shard that splits only needs Launch to return once the process is on
// its way; the new shard registers with the coordinator and starts listening
// on its own, and the transfer client keeps redialing until it does.
package launcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/dreamware/rangedir/internal/keyrange"
)

// Request describes the shard to start.
type Request struct {
	// Host is the name handed out by the coordinator.
	Host string
	// Addr is the host:port the new shard must listen on.
	Addr string
	// Range is the key range the new shard starts with.
	Range keyrange.Range
	// Coordinator is the coordinator's host:port.
	Coordinator string
}

// Launcher starts a shard process.
type Launcher interface {
	Launch(ctx context.Context, req Request) error
}

// Func adapts a function to Launcher. Tests use it to start shards in-process.
type Func func(ctx context.Context, req Request) error

func (f Func) Launch(ctx context.Context, req Request) error { return f(ctx, req) }

// ShardArgs is the command line of a spawned shard process.
func ShardArgs(req Request, configPath string) []string {
	args := []string{
		"-listen", req.Addr,
		"-coordinator", req.Coordinator,
		"-range", req.Range.String(),
	}
	if configPath != "" {
		args = append(args, "-config", configPath)
	}
	return args
}

// Exec runs the shard binary on the local machine. It suits single-host
// deployments where every "host" is a distinct port on localhost.
type Exec struct {
	Binary     string
	ConfigPath string
	Logger     *slog.Logger

	procs sync.WaitGroup
}

// Launch starts the binary and returns once the process is running.
func (e *Exec) Launch(_ context.Context, req Request) error {
	// The child outlives the request that triggered the split.
	cmd := exec.Command(e.Binary, ShardArgs(req, e.ConfigPath)...)
	return start(cmd, req, logger(e.Logger), &e.procs)
}

// Wait blocks until every process started by e has exited.
func (e *Exec) Wait() { e.procs.Wait() }

// SSH runs the shard binary on the remote host through the ssh client.
type SSH struct {
	User       string
	Dir        string
	Binary     string
	ConfigPath string
	Logger     *slog.Logger

	procs sync.WaitGroup
}

// Launch starts "ssh [user@]host 'cd dir && binary args'" and returns once the
// ssh client is running.
func (s *SSH) Launch(_ context.Context, req Request) error {
	cmd := exec.Command("ssh", s.Command(req)...)
	return start(cmd, req, logger(s.Logger), &s.procs)
}

// Command returns the ssh arguments for req.
func (s *SSH) Command(req Request) []string {
	target := hostOnly(req.Host)
	if s.User != "" {
		target = s.User + "@" + target
	}
	remote := make([]string, 0, 8)
	if s.Dir != "" {
		remote = append(remote, "cd", strconv.Quote(s.Dir), "&&")
	}
	remote = append(remote, s.Binary)
	for _, a := range ShardArgs(req, s.ConfigPath) {
		remote = append(remote, strconv.Quote(a))
	}
	return []string{"-o", "BatchMode=yes", target, strings.Join(remote, " ")}
}

// Wait blocks until every ssh session started by s has exited.
func (s *SSH) Wait() { s.procs.Wait() }

func start(cmd *exec.Cmd, req Request, log *slog.Logger, procs *sync.WaitGroup) error {
	log = log.With("host", req.Host, "range", req.Range.String())

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("launch on %s: %w", req.Host, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("launch on %s: %w", req.Host, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch on %s: %w", req.Host, err)
	}
	log.Info("shard process started", "pid", cmd.Process.Pid, "cmd", cmd.String())

	var relays sync.WaitGroup
	relays.Add(2)
	go relay(stdout, log, slog.LevelInfo, &relays)
	go relay(stderr, log, slog.LevelWarn, &relays)

	procs.Add(1)
	go func() {
		defer procs.Done()
		relays.Wait()
		if err := cmd.Wait(); err != nil {
			log.Warn("shard process exited", "error", err)
			return
		}
		log.Info("shard process exited")
	}()
	return nil
}

// relay copies a child's output into the log line by line.
func relay(r io.Reader, log *slog.Logger, level slog.Level, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		log.Log(context.Background(), level, sc.Text())
	}
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default().With("component", "launcher")
	}
	return l
}

func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
