package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gaborage/condfetch/config"
	"github.com/gaborage/condfetch/httpclient"
	"github.com/gaborage/condfetch/logger"
	"github.com/gaborage/condfetch/observability"
)

var errNoURL = errors.New("no url given and fetch.url is not configured")

// FetchOptions holds options for the fetch command
type FetchOptions struct {
	ConfigPath string
	Base       int
	Exponent   int
	CAFile     string
	Store      string
}

// NewFetchCommand creates the fetch command
func NewFetchCommand() *cobra.Command {
	opts := &FetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch [url]",
		Short: "Fetch a URL, sending If-Modified-Since when a marker is stored",
		Long: `Fetches a URL with exponential backoff between failed attempts.

The Last-Modified value of every successful response is stored per URL and sent as
If-Modified-Since on the next fetch. A 304 response prints nothing to stdout.`,
		Example: `  # Fetch with the defaults (waits 2, 4, 8, 16 and 32 seconds between failures)
  condfetch fetch https://cdn.example.com/datafile.json

  # Remember markers across runs and give up sooner
  condfetch fetch --store leveldb --base 2 --exponent 3 https://cdn.example.com/datafile.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Configuration file (default config.yaml if present)")
	cmd.Flags().IntVar(&opts.Base, "base", 0, "First backoff delay in seconds and growth factor")
	cmd.Flags().IntVar(&opts.Exponent, "exponent", 0, "Largest backoff delay is base^exponent seconds")
	cmd.Flags().StringVar(&opts.CAFile, "cafile", "", "PEM bundle trusted for https endpoints")
	cmd.Flags().StringVar(&opts.Store, "store", "", "Marker store (memory|redis|leveldb|sqlite|postgres)")

	return cmd
}

func runFetch(cmd *cobra.Command, opts *FetchOptions, args []string) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, opts, cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	target := cfg.Fetch.URL
	if len(args) == 1 {
		target = args[0]
	}
	if target == "" {
		return errNoURL
	}

	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Pretty)
	return fetch(cmd.Context(), cfg, log, target, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// applyFlags overrides configuration with flags the user set explicitly.
func applyFlags(cmd *cobra.Command, opts *FetchOptions, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("base") {
		cfg.Fetch.Backoff.Base = opts.Base
	}
	if flags.Changed("exponent") {
		cfg.Fetch.Backoff.Exponent = opts.Exponent
	}
	if flags.Changed("cafile") {
		cfg.TLS.CAFile = opts.CAFile
	}
	if flags.Changed("store") {
		cfg.Store.Type = opts.Store
	}
}

func fetch(ctx context.Context, cfg *config.Config, log logger.Logger, target string, out, errOut io.Writer) error {
	provider, err := observability.NewProvider(&cfg.Observability)
	if err != nil {
		return err
	}
	defer func() {
		if err := observability.Shutdown(provider, observability.DefaultShutdownTimeout); err != nil {
			log.Warn().Err(err).Msg("metrics shutdown failed")
		}
	}()

	trust, err := trustPolicy(&cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}

	st, closer, err := openStore(ctx, &cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Msg("closing marker store failed")
		}
	}()

	client := httpclient.NewClient(st, log, &httpclient.Config{
		Timeout:      cfg.Fetch.Timeout,
		UserAgent:    cfg.Fetch.UserAgent,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		Trust:        trust,
	})
	fetcher := httpclient.NewFetcher(client, httpclient.NewBackoff(log), httpclient.RetryConfig{
		Base:      cfg.Fetch.Backoff.Base,
		Exponent:  cfg.Fetch.Backoff.Exponent,
		RateLimit: cfg.Fetch.Rate.Limit,
		RateBurst: cfg.Fetch.Rate.Burst,
	})

	res, err := fetcher.Fetch(ctx, target)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", target, err)
	}

	if res.NotModified {
		fmt.Fprintf(errOut, "not modified: %s\n", res.URL)
		return nil
	}
	_, err = io.WriteString(out, res.Body)
	return err
}
