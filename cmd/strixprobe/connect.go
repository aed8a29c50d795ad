package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/linchenxuan/strixlink"
	"github.com/linchenxuan/strixlink/config"
	"github.com/linchenxuan/strixlink/engine"
	"github.com/linchenxuan/strixlink/log"
	"github.com/linchenxuan/strixlink/metrics"
	"github.com/linchenxuan/strixlink/plugin"
)

const _drainTimeout = 2 * time.Second

// connectOptions holds flags for the connect command.
type connectOptions struct {
	*rootOptions
	Host    string
	Port    int
	BlueBox bool
	Crypto  bool
	Stats   bool
}

func newConnectCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &connectOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect and exchange frames",
		Long: `Connect to the configured server, send every stdin line as one frame and
print inbound frames and lifecycle events. EOF on stdin disconnects.

Example:
  strixprobe connect --host 10.0.0.5 --port 9933
  strixprobe connect -c client.toml --bluebox --crypto`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(opts, cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConnect(ctx, cfg, opts.Stats, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "", "server host (overrides the config file)")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "socket port (overrides the config file)")
	cmd.Flags().BoolVar(&opts.BlueBox, "bluebox", false, "connect over the BlueBox HTTP tunnel only")
	cmd.Flags().BoolVar(&opts.Crypto, "crypto", false, "exchange a session key after the handshake")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "print engine metrics on exit")
	return cmd
}

// buildConfig loads the configuration file and applies the flags set on the command line.
func buildConfig(opts *connectOptions, cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Engine.Host = opts.Host
	}
	if flags.Changed("port") {
		cfg.Engine.Port = opts.Port
	}
	if opts.BlueBox {
		cfg.Engine.BlueBox.Force = true
	}
	if opts.Crypto {
		cfg.Engine.Crypto.Enabled = true
	}
	if opts.Verbose {
		cfg.Log.LogLevel = log.DebugLevel
		cfg.Engine.Debug = true
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// printer serializes event output.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, format+"\n", args...)
}

func runConnect(ctx context.Context, cfg *config.Config, stats bool, in io.Reader, out io.Writer) error {
	app, err := strixlink.NewWithConfig(cfg)
	if err != nil {
		return err
	}
	defer app.Stop()

	pr := &printer{out: out}
	agg := metrics.NewAggregator()
	if stats {
		reporters := []metrics.Reporter{agg}
		for _, p := range app.PluginManager.Plugins(plugin.Metrics) {
			if r, ok := p.(metrics.Reporter); ok {
				reporters = append(reporters, r)
			}
		}
		metrics.SetMetricsReporters(reporters)
		defer printStats(pr, agg)
	}

	connected := make(chan engine.ConnectionEvent, 1)
	lost := make(chan engine.ConnectionLostEvent, 1)

	c := app.Client
	c.OnConnection(func(e engine.ConnectionEvent) {
		if e.Success {
			pr.printf("connected over %s", e.Transport)
		} else {
			pr.printf("connection failed: %v", e.Err)
		}
		select {
		case connected <- e:
		default:
		}
	})
	c.OnConnectionLost(func(e engine.ConnectionLostEvent) {
		pr.printf("connection lost (%s): %v", e.Reason, e.Err)
		select {
		case lost <- e:
		default:
		}
	})
	c.OnConnectionRetry(func(e engine.ConnectionRetryEvent) { pr.printf("reconnecting over %s: %v", e.Transport, e.Err) })
	c.OnConnectionResume(func(e engine.ConnectionResumeEvent) { pr.printf("session resumed over %s", e.Transport) })
	c.OnConnectionAttemptHTTP(func(e engine.ConnectionAttemptHTTPEvent) {
		pr.printf("socket failed (%v), trying BlueBox on port %d", e.Err, e.Port)
	})
	c.OnCryptoInit(func(e engine.CryptoInitEvent) {
		if e.Success {
			pr.printf("session key installed")
		} else {
			pr.printf("key exchange failed: %v", e.Err)
		}
	})
	c.OnData(func(e engine.DataEvent) { pr.printf("<< %q", e.Frame) })
	c.OnError(func(e engine.ErrorEvent) { pr.printf("error (%s): %v", e.Kind, e.Err) })

	if err := c.ConnectDefault(); err != nil {
		return err
	}
	select {
	case e := <-connected:
		if !e.Success {
			return e.Err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return disconnect(c, lost)
			}
			if err := c.Send([]byte(line)); err != nil {
				pr.printf("send failed: %v", err)
				continue
			}
			pr.printf(">> %q", line)
		case e := <-lost:
			if e.Reason == engine.ReasonManual {
				return nil
			}
			return fmt.Errorf("connection lost: %s", e.Reason)
		case <-ctx.Done():
			return disconnect(c, lost)
		}
	}
}

// disconnect ends the session and waits briefly for the lost event so it is printed.
func disconnect(c *engine.Client, lost <-chan engine.ConnectionLostEvent) error {
	if err := c.Disconnect(); err != nil {
		// already idle, the lost event was delivered before
		return nil
	}
	select {
	case <-lost:
	case <-time.After(_drainTimeout):
		return errors.New("no disconnect confirmation")
	}
	return nil
}

func printStats(pr *printer, agg *metrics.Aggregator) {
	for _, r := range agg.Snapshot() {
		pr.printf("%s %v = %v", r.Metrics().Name(), r.Dimensions(), r.Value())
	}
}
