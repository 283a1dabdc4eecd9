package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/refspace-go/internal/config"
	"github.com/rmacdonaldsmith/refspace-go/internal/observability"
	"github.com/rmacdonaldsmith/refspace-go/internal/refnode"
)

type serveOptions struct {
	configPath string
	id         string
	listen     string
	grpcListen string
	httpListen string
	secret     string
	peers      []string
	noAuth     bool
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a node",
		Long: `Run a node that exports api/echo and sys/lookup, accepts stream bus
clients on --listen, links to peers over gRPC on --grpc-listen and serves
the introspection API on --http-listen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			logger := observability.InitLogger(appName, cfg.LogLevel)
			return runServe(cmd.Context(), cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "Path to a TOML config file")
	flags.StringVar(&opts.id, "id", "", "Store id (generated when empty)")
	flags.StringVar(&opts.listen, "listen", "", "Stream bus listen address")
	flags.StringVar(&opts.grpcListen, "grpc-listen", "", "Peer link listen address")
	flags.StringVar(&opts.httpListen, "http-listen", "", "HTTP API listen address (empty disables)")
	flags.StringVar(&opts.secret, "secret", "", "Shared secret for peer and API tokens")
	flags.StringSliceVar(&opts.peers, "peer", nil, "Seed peer, id@address or address (repeatable)")
	flags.BoolVar(&opts.noAuth, "no-auth", false, "Open read endpoints of the HTTP API without a token")
	return cmd
}

// resolve loads the config file, if any, and applies explicitly set flags over it.
func (o *serveOptions) resolve(cmd *cobra.Command) (config.NodeConfig, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return config.NodeConfig{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("id") {
		cfg.ID = o.id
	}
	if flags.Changed("listen") {
		cfg.Listen = o.listen
	}
	if flags.Changed("grpc-listen") {
		cfg.GRPCListen = o.grpcListen
	}
	if flags.Changed("http-listen") {
		cfg.HTTPListen = o.httpListen
	}
	if flags.Changed("secret") {
		cfg.Secret = o.secret
	}
	if flags.Changed("peer") {
		cfg.Peers = o.peers
	}
	if flags.Changed("no-auth") {
		cfg.NoAuth = o.noAuth
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return config.NodeConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, cfg config.NodeConfig, logger zerolog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := startNode(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info().
		Str("id", n.Store().ID()).
		Str("listen", n.BusAddr()).
		Str("grpc", n.GRPCAddr()).
		Str("http", n.HTTPAddr()).
		Msgf("%s v%s started", appName, appVersion)

	<-ctx.Done()
	logger.Info().Msg("Shutting down")
	return n.Close()
}

// startNode creates a node, exports the demo entities and starts listening.
func startNode(ctx context.Context, cfg config.NodeConfig, logger zerolog.Logger) (*refnode.Node, error) {
	n, err := refnode.NewNode(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := exportDemo(n.Store()); err != nil {
		n.Close()
		return nil, fmt.Errorf("export demo objects: %w", err)
	}
	if err := n.Start(ctx); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}
