package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/visitoolkit/dms/pkg/config"
	"github.com/visitoolkit/dms/pkg/dms"
	"github.com/visitoolkit/dms/pkg/version"
)

// rootOptions carries the connection settings resolved from .env, the config
// file and command-line flags (in ascending precedence).
type rootOptions struct {
	configPath string
	host       string
	port       int
	whois      string
	user       string
	verbose    bool

	client dms.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "dmscli",
		Short:         "Talk to a DMS server over the JSON Data Exchange protocol",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err == nil {
				slog.Debug("Loaded .env file")
			}
			if opts.verbose {
				logLevel.Set(slog.LevelDebug)
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.client = cfg.ClientConfig()
			if opts.host != "" {
				opts.client.Host = opts.host
			}
			if opts.port != 0 {
				opts.client.Port = opts.port
			}
			if opts.whois != "" {
				opts.client.Whois = opts.whois
			}
			if opts.user != "" {
				opts.client.User = opts.user
			}
			if opts.client.Whois == "" {
				opts.client.Whois = version.Full()
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "dmsgo.yaml", "path to the YAML config file")
	flags.StringVar(&opts.host, "host", "", "DMS host (overrides config)")
	flags.IntVar(&opts.port, "port", 0, "DMS port (overrides config)")
	flags.StringVar(&opts.whois, "whois", "", "application identity sent in every request")
	flags.StringVar(&opts.user, "user", "", "user identity sent in every request")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newGetCmd(opts),
		newSetCmd(opts),
		newRenCmd(opts),
		newDelCmd(opts),
		newMonitorCmd(opts),
		newChangelogCmd(opts),
	)
	return cmd
}

// connect dials the server with a short exponential-backoff retry. The core
// library does not reconnect by design; the harness retries the initial dial
// only.
func connect(ctx context.Context, opts *rootOptions) (*dms.Client, error) {
	var client *dms.Client
	operation := func() error {
		var err error
		client, err = dms.Dial(ctx, opts.client)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return client, nil
}

var logLevel = new(slog.LevelVar)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}
