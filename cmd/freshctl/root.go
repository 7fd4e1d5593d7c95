package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/LavishGent/freshline/internal/config"
	"github.com/LavishGent/freshline/pkg/freshline"
)

// rootOptions holds the global flags shared by every subcommand.
type rootOptions struct {
	configFile string
	baseURL    string
	token      string
	headers    []string
	timeout    time.Duration
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "freshctl",
		Short: "Read and poll backend endpoints through a freshline data layer",
		Long: `freshctl sends requests through the freshline resilient client and cache.
Configuration is read from a JSON file (--config) with FRESHLINE_* environment
overrides; --base-url and --timeout take precedence over both.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "JSON config file")
	root.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "Backend base URL (overrides client.baseURL)")
	root.PersistentFlags().StringVar(&opts.token, "token", "", "Static bearer token sent with every request")
	root.PersistentFlags().StringArrayVarP(&opts.headers, "header", "H", nil, "Extra request header as 'Name: value' (repeatable)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "Per-attempt request timeout (overrides client.timeout)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	root.AddCommand(newGetCmd(opts), newWatchCmd(opts), newVersionCmd())
	return root
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if o.configFile != "" {
		loaded, err := config.LoadWithEnv(o.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if o.baseURL != "" {
		cfg.Client.BaseURL = o.baseURL
	}
	if o.timeout > 0 {
		cfg.Client.Timeout = o.timeout
	}
	cfg.Metrics.Enabled = false
	if cfg.Client.BaseURL == "" {
		return nil, errors.New("a base URL is required: set --base-url or client.baseURL")
	}
	return cfg, nil
}

func (o *rootOptions) newLayer(cmd *cobra.Command) (*freshline.Layer, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if o.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	return freshline.NewFromConfig(cfg, nil, nil, freshline.Credential{}, freshline.WithSlogLogger(logger))
}

// request builds the backend request for path with the global headers applied.
func (o *rootOptions) request(path string) (*freshline.Request, error) {
	header := make(http.Header)
	for _, h := range o.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q: expected 'Name: value'", h)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	if o.token == "" {
		o.token = os.Getenv("FRESHLINE_TOKEN")
	}
	if o.token != "" {
		header.Set("Authorization", "Bearer "+o.token)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &freshline.Request{Method: http.MethodGet, Path: path, Header: header}, nil
}
