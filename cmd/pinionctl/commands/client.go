package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/luciancaetano/pinion"
	"github.com/luciancaetano/pinion/internal/config"
	"github.com/luciancaetano/pinion/internal/logging"
	"github.com/luciancaetano/pinion/ws"
)

// clientFlags are the connection overrides shared by the client commands.
type clientFlags struct {
	host string
	port int
	path string
	user string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "host", "", "server host (overrides config)")
	cmd.Flags().IntVar(&f.port, "port", 0, "server port (overrides config)")
	cmd.Flags().StringVar(&f.path, "path", "", "URL path (overrides config)")
	cmd.Flags().StringVar(&f.user, "user", "", "handshake user object as JSON (overrides config)")
}

// resolve merges the config file, when given, with the flags that were set.
func (f *clientFlags) resolve(cmd *cobra.Command) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	if configPath != "" {
		loaded, err := config.LoadClientConfig(configPath)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("host") {
		cfg.Host = f.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = f.port
	}
	if cmd.Flags().Changed("path") {
		cfg.Path = f.path
	}
	if cmd.Flags().Changed("user") {
		var user map[string]any
		if err := json.Unmarshal([]byte(f.user), &user); err != nil {
			return config.ClientConfig{}, fmt.Errorf("invalid --user: %w", err)
		}
		cfg.User = user
	}
	if err := config.ValidateClientConfig(cfg); err != nil {
		return config.ClientConfig{}, err
	}
	if logLevel == "" && cfg.LogLevel != "" && !logging.SetLevel(cfg.LogLevel) {
		return config.ClientConfig{}, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	return cfg, nil
}

// connection is an established session plus its event stream.
type connection struct {
	sess   pinion.Session
	events chan pinion.Event
}

// dial opens a session and waits for the handshake. Failures reported as events
// before the handshake completes are returned as errors.
func dial(ctx context.Context, cfg config.ClientConfig) (*connection, error) {
	c := &connection{events: make(chan pinion.Event, 256)}

	sessCfg := ws.NewConfig(cfg.Host, cfg.Port, cfg.User, func(ev pinion.Event) {
		select {
		case c.events <- ev:
		default:
		}
	})
	sessCfg.Path = cfg.Path
	sessCfg.ConnectTimeout = cfg.ConnectTimeout
	sessCfg.Logger = logging.New("pinionctl")
	c.sess = ws.New(sessCfg)

	ready := make(chan struct{})
	if err := c.sess.Init(ctx, func() { close(ready) }); err != nil {
		return nil, err
	}

	timeout := time.NewTimer(cfg.ConnectTimeout + 5*time.Second)
	defer timeout.Stop()
	for {
		select {
		case <-ready:
			return c, nil
		case ev := <-c.events:
			if err := eventError(ev); err != nil {
				c.sess.Disconnect()
				return nil, err
			}
		case <-timeout.C:
			c.sess.Disconnect()
			return nil, fmt.Errorf("handshake with %s:%d timed out", cfg.Host, cfg.Port)
		case <-ctx.Done():
			c.sess.Disconnect()
			return nil, ctx.Err()
		}
	}
}

// close disconnects and waits for the transport to go away.
func (c *connection) close() {
	c.sess.Disconnect()
	select {
	case <-c.sess.Done():
	case <-time.After(2 * time.Second):
	}
}

func eventError(ev pinion.Event) error {
	switch e := ev.(type) {
	case pinion.ErrorEvent:
		if e.Err != nil {
			return fmt.Errorf("%s: %w", e.Reason, e.Err)
		}
		return fmt.Errorf("%s", e.Reason)
	case pinion.IOErrorEvent:
		return e.Err
	case pinion.CloseEvent:
		return fmt.Errorf("connection closed (%d) %s", e.Code, e.Text)
	case pinion.HeartbeatTimeoutEvent:
		return fmt.Errorf("heartbeat timeout")
	default:
		return nil
	}
}

// parsePayload reads an optional JSON argument. No argument means an empty object.
func parsePayload(args []string) (any, error) {
	if len(args) == 0 {
		return map[string]any{}, nil
	}
	var payload any
	if err := json.Unmarshal([]byte(args[0]), &payload); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return payload, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(v)
}
