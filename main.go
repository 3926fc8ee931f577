package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/die-net/hexrelay/internal/dialer"
	"github.com/die-net/hexrelay/internal/endpoint"
	"github.com/die-net/hexrelay/internal/logging"
	"github.com/die-net/hexrelay/internal/metrics"
	"github.com/die-net/hexrelay/internal/proxy"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line and returns the process exit status. Fatal
// errors are reported as a single "[!]" line on stderr.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "[!] "+err.Error())
		return 1
	}
	return 0
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "hexrelay LISTEN_ADDRESS LISTEN_PORT REMOTE_ADDRESS REMOTE_PORT",
		Short: "Forward one TCP connection to a remote host, optionally hex-dumping the traffic",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return fmt.Errorf("bind flags: %w", err)
			}
			return run(cmd.Context(), v, args, stdout)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	fs := cmd.Flags()
	fs.SortFlags = false
	addFlags(fs)

	v.SetEnvPrefix("HEXRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return cmd
}

func addFlags(fs *pflag.FlagSet) {
	fs.BoolP("verbose", "v", false, "Print a hex dump of the data sent between hosts")
	fs.String("upstream", "direct://", "Route to the remote host: direct:// | socks5://[user:pass@]host:port")
	fs.Duration("dial-timeout", 0, "Timeout for connecting to the remote host (0 leaves it to the OS)")
	fs.String("tcp-keepalive", "on", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	fs.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof and /metrics (e.g. 127.0.0.1:6060). Empty disables.")
	fs.String("log-level", "info", "Log level: debug|info|warn|error")
	fs.Bool("no-color", false, "Disable colored direction labels")
}

func run(ctx context.Context, v *viper.Viper, args []string, stdout io.Writer) error {
	listenEp, err := endpoint.Parse(args[0], args[1])
	if err != nil {
		return fmt.Errorf("listen endpoint: %w", err)
	}
	remoteEp, err := endpoint.Parse(args[2], args[3])
	if err != nil {
		return fmt.Errorf("remote endpoint: %w", err)
	}

	ka, err := parseTCPKeepAlive(v.GetString("tcp-keepalive"))
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	log, err := logging.New(v.GetString("log-level"), stdout)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	log = log.With(zap.String("session", uuid.NewString()))

	dialCfg := dialer.Config{
		DialTimeout: v.GetDuration("dial-timeout"),
		KeepAlive:   ka,
		Logger:      log,
		Metrics:     m,
	}
	d, err := dialer.New(dialCfg, v.GetString("upstream"))
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	if addr := v.GetString("debug-listen"); addr != "" {
		stopDebug, err := startDebugServer(ctx, addr, reg, log)
		if err != nil {
			return err
		}
		defer stopDebug()
	}

	cfg := proxy.Config{
		Verbose:   v.GetBool("verbose"),
		Color:     !color.NoColor && !v.GetBool("no-color"),
		Output:    stdout,
		KeepAlive: ka,
		Logger:    log,
		Metrics:   m,
	}

	inbound, err := proxy.Accept(ctx, cfg, listenEp)
	if err != nil {
		return shutdownOnInterrupt(log, err)
	}

	outbound, err := dialer.Connect(ctx, dialCfg, d, remoteEp)
	if err != nil {
		_ = inbound.Close()
		return shutdownOnInterrupt(log, err)
	}

	// The relay logs its own closing message and any session error; either
	// way the session ended through the normal shutdown path.
	if _, err := proxy.NewRelay(cfg).Run(ctx, inbound, outbound); err != nil {
		log.Debug("session ended with error", zap.Error(err))
	}
	return nil
}

// shutdownOnInterrupt turns a cancellation during setup into a clean exit.
func shutdownOnInterrupt(log *zap.Logger, err error) error {
	if errors.Is(err, context.Canceled) {
		log.Info("interrupted, shutting down")
		return nil
	}
	return err
}

// parseTCPKeepAlive reads the --tcp-keepalive value: on, off, or
// keepidle:keepintvl:keepcnt with seconds for the first two.
func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{}, nil
	}

	fields := strings.Split(s, ":")
	if len(fields) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}

	var vals [3]int
	for i, name := range [3]string{"keepidle", "keepintvl", "keepcnt"} {
		n, err := strconv.Atoi(strings.TrimSpace(fields[i]))
		if err != nil {
			return net.KeepAliveConfig{}, fmt.Errorf("%s: %w", name, err)
		}
		if n <= 0 {
			return net.KeepAliveConfig{}, fmt.Errorf("%s: must be > 0", name)
		}
		vals[i] = n
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(vals[0]) * time.Second,
		Interval: time.Duration(vals[1]) * time.Second,
		Count:    vals[2],
	}, nil
}
