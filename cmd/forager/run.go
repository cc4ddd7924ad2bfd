package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/forager/pkg/auth"
	"github.com/cuemby/forager/pkg/config"
	"github.com/cuemby/forager/pkg/credentials"
	"github.com/cuemby/forager/pkg/fetcher"
	"github.com/cuemby/forager/pkg/kv"
	"github.com/cuemby/forager/pkg/loader"
	"github.com/cuemby/forager/pkg/locator"
	"github.com/cuemby/forager/pkg/log"
	"github.com/cuemby/forager/pkg/metrics"
	"github.com/cuemby/forager/pkg/protocol"
	"github.com/cuemby/forager/pkg/storage"
	"github.com/cuemby/forager/pkg/types"
)

var (
	flagRecipes     string
	flagCredentials string
	flagStorage     string
	flagKVStore     string
	flagConcurrency int
)

var runCmd = &cobra.Command{
	Use:   "run <recipe>",
	Short: "Run one acquisition recipe to exhaustion",
	Long: `Run builds the credential provider, state store, and storage sink
from FORAGER_* environment variables (overridable by flags), loads the
named recipe from the recipe file, and fetches until every locator is
exhausted. The exit code is non-zero on unrecoverable init failure or
when the run ends with errors.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecipe(args[0])
	},
}

var recipesCmd = &cobra.Command{
	Use:   "recipes",
	Short: "Validate and list the recipes in the recipe file",
	RunE: func(cmd *cobra.Command, args []string) error {
		rf, err := config.LoadRecipes(flagRecipes)
		if err != nil {
			return err
		}
		for name, spec := range rf.Recipes {
			fmt.Printf("%s\t%s loader, %d locator(s)\n", name, spec.Loader.Type, len(spec.Locators))
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, recipesCmd} {
		c.Flags().StringVar(&flagRecipes, "recipes", "recipes.yaml", "Path to the YAML recipe file")
	}
	runCmd.Flags().StringVar(&flagCredentials, "credentials-provider", "", "Credential provider: env or aws")
	runCmd.Flags().StringVar(&flagStorage, "storage", "", "Storage sink: file or s3")
	runCmd.Flags().StringVar(&flagKVStore, "kvstore", "", "State store: memory, bolt, or redis")
	runCmd.Flags().IntVar(&flagConcurrency, "concurrency", 0, "Worker count (overrides FORAGER_CONCURRENCY)")
}

func runRecipe(name string) error {
	cfg := config.FromEnv()
	if flagCredentials != "" {
		cfg.Credentials.Type = flagCredentials
	}
	if flagStorage != "" {
		cfg.Storage.Type = flagStorage
	}
	if flagKVStore != "" {
		cfg.KV.Type = flagKVStore
	}
	if flagConcurrency > 0 {
		cfg.Concurrency = flagConcurrency
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	metrics.Register()
	if cfg.MetricsAddr != "" {
		go metrics.Serve(cfg.MetricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithComponent("cli").Warn().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	rf, err := config.LoadRecipes(flagRecipes)
	if err != nil {
		return err
	}
	spec, ok := rf.Recipes[name]
	if !ok {
		return fmt.Errorf("recipe %q not found in %s", name, flagRecipes)
	}

	provider, err := buildProvider(ctx, cfg.Credentials)
	if err != nil {
		return fmt.Errorf("failed to build credential provider: %w", err)
	}

	store, err := buildStore(cfg.KV)
	if err != nil {
		return fmt.Errorf("failed to build state store: %w", err)
	}
	defer store.Close()

	sink, err := buildSink(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to build storage sink: %w", err)
	}

	recipe, cleanup, err := buildRecipe(spec, provider, store)
	if err != nil {
		return fmt.Errorf("failed to build recipe %s: %w", name, err)
	}
	defer cleanup()

	runCtx := &types.FetchRunContext{RunID: cfg.RunID}
	result, err := fetcher.New(recipe, sink).Run(ctx, types.FetchPlan{
		Context:     runCtx,
		Concurrency: cfg.Concurrency,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Processed %d request(s), %d error(s)\n", result.ProcessedCount, len(result.Errors))
	if len(result.Errors) > 0 {
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "  %s\n", e)
		}
		return fmt.Errorf("run finished with %d error(s)", len(result.Errors))
	}
	return nil
}

func buildProvider(ctx context.Context, cfg config.CredentialsConfig) (credentials.Provider, error) {
	switch cfg.Type {
	case "", "env":
		return credentials.NewEnvProvider(cfg.EnvPrefix), nil
	case "aws":
		return credentials.NewAWSSecretsProvider(ctx, credentials.AWSConfig{
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
	default:
		return nil, fmt.Errorf("unknown credential provider: %s", cfg.Type)
	}
}

func buildStore(cfg config.KVConfig) (kv.Store, error) {
	serializer, err := kv.SerializerByName(cfg.Serializer)
	if err != nil {
		return nil, err
	}
	opts := kv.Options{
		Prefix:     cfg.Prefix,
		Serializer: serializer,
		DefaultTTL: cfg.TTL,
	}
	switch cfg.Type {
	case "", "memory":
		return kv.NewMemoryStore(opts), nil
	case "bolt":
		return kv.NewBoltStore(cfg.Path, opts)
	case "redis":
		return kv.NewRedisStore(kv.RedisConfig{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		}, opts), nil
	default:
		return nil, fmt.Errorf("unknown kv store: %s", cfg.Type)
	}
}

func buildSink(ctx context.Context, cfg config.StorageConfig) (storage.Sink, error) {
	var sink storage.Sink
	switch cfg.Type {
	case "", "file":
		sink = storage.NewFileSink(cfg.Dir)
	case "s3":
		s3, err := storage.NewS3Sink(ctx, storage.S3Config{
			Bucket:   cfg.Bucket,
			Prefix:   cfg.Prefix,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		sink = s3
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}

	// Decorators compose from inside out: unzip first so an archived
	// bundle holds the expanded resources.
	if cfg.BundleZip {
		sink = storage.NewBundleZipDecorator(sink)
	}
	if cfg.Unzip {
		sink = storage.NewUnzipDecorator(sink)
	}
	return sink, nil
}

// buildRecipe wires a recipe spec into a runnable loader and locators.
// The returned cleanup closes any SFTP session.
func buildRecipe(spec config.RecipeSpec, provider credentials.Provider, store kv.Store) (fetcher.Recipe, func(), error) {
	cleanup := func() {}

	var (
		recipe  fetcher.Recipe
		sftpMgr *protocol.SFTPManager
	)

	switch spec.Loader.Type {
	case "http":
		mechanism, err := auth.ByName(spec.Loader.Auth.Type, provider, spec.Loader.Auth.ConfigName, spec.Loader.Auth.TokenURL)
		if err != nil {
			return recipe, cleanup, err
		}
		var timeout time.Duration
		if spec.Loader.Timeout != "" {
			timeout, err = time.ParseDuration(spec.Loader.Timeout)
			if err != nil {
				return recipe, cleanup, fmt.Errorf("invalid timeout: %w", err)
			}
		}
		mgr := protocol.NewHTTPManager(protocol.HTTPConfig{
			Timeout:        timeout,
			DefaultHeaders: spec.Loader.DefaultHeaders,
			RateLimitRPS:   spec.Loader.RateLimitRPS,
			MaxRetries:     spec.Loader.MaxRetries,
			Auth:           mechanism,
		})
		recipe.Loader = &loader.HTTPLoader{Manager: mgr, CaptureBody: spec.Loader.CaptureBody}

	case "sftp":
		gates, err := buildGates(spec.Loader.Gates, store)
		if err != nil {
			return recipe, cleanup, err
		}
		sftpMgr = protocol.NewSFTPManager(protocol.SFTPConfig{
			Provider:              provider,
			ConfigName:            spec.Loader.ConfigName,
			RateLimitRPS:          spec.Loader.RateLimitRPS,
			Gates:                 gates,
			InsecureIgnoreHostKey: spec.Loader.IgnoreHostKey,
		})
		cleanup = func() { sftpMgr.Close() }
		recipe.Loader = &loader.SFTPLoader{Manager: sftpMgr, FilenamePattern: spec.Loader.FilenamePattern}

	default:
		return recipe, cleanup, fmt.Errorf("unknown loader type: %s", spec.Loader.Type)
	}

	for i, ls := range spec.Locators {
		loc, err := buildLocator(ls, store, sftpMgr)
		if err != nil {
			return recipe, cleanup, fmt.Errorf("locator %d: %w", i, err)
		}
		recipe.Locators = append(recipe.Locators, loc)
	}
	return recipe, cleanup, nil
}

func buildGates(specs []config.GateSpec, store kv.Store) ([]protocol.Gate, error) {
	var gates []protocol.Gate
	for i, gs := range specs {
		switch gs.Type {
		case "daily":
			gates = append(gates, &protocol.ScheduledDailyGate{
				TimeOfDay:             gs.TimeOfDay,
				StartupSkipIfRanToday: gs.SkipIfRanToday,
				Store:                 store,
			})
		case "interval":
			interval, err := time.ParseDuration(gs.Interval)
			if err != nil {
				return nil, fmt.Errorf("gate %d: invalid interval: %w", i, err)
			}
			var jitter time.Duration
			if gs.Jitter != "" {
				jitter, err = time.ParseDuration(gs.Jitter)
				if err != nil {
					return nil, fmt.Errorf("gate %d: invalid jitter: %w", i, err)
				}
			}
			gates = append(gates, &protocol.OncePerIntervalGate{Interval: interval, Jitter: jitter})
		default:
			return nil, fmt.Errorf("gate %d: unknown type %q", i, gs.Type)
		}
	}
	return gates, nil
}

func buildLocator(ls config.LocatorSpec, store kv.Store, sftpMgr *protocol.SFTPManager) (locator.BundleLocator, error) {
	switch ls.Type {
	case "directory":
		if sftpMgr == nil {
			return nil, fmt.Errorf("directory locator requires an sftp loader")
		}
		l := locator.NewDirectoryLocator(store, sftpMgr, ls.Host, ls.RemoteDir)
		l.Pattern = ls.Pattern
		return l, nil

	case "filelist":
		return locator.NewFileListLocator(store, ls.Scope, ls.URLs), nil

	case "api":
		l := locator.NewSingleAPILocator(store, ls.Scope, ls.URLs)
		l.Headers = ls.Headers
		return l, nil

	case "paginated", "gapfill":
		var l *locator.PaginatedAPILocator
		if ls.Type == "gapfill" {
			l = locator.NewGapFillLocator(store, ls.BaseURL, ls.DateStart, ls.DateEnd)
		} else {
			l = locator.NewPaginatedAPILocator(store, ls.BaseURL, ls.DateStart, ls.DateEnd)
		}
		l.MaxRecordsPerPage = ls.MaxRecordsPerPage
		l.RateLimitRPS = ls.RateLimitRPS
		l.QueryParams = ls.QueryParams
		l.Headers = ls.Headers
		l.Pagination = locator.PaginationStrategy{
			CursorField: ls.CursorField,
			CountField:  ls.CountField,
			TotalField:  ls.TotalField,
			MaxRecords:  ls.MaxRecords,
		}
		return l, nil

	case "retry":
		return locator.NewRetryLocator(store, ls.Scope, ls.MaxRetryCount), nil

	default:
		return nil, fmt.Errorf("unknown locator type: %s", ls.Type)
	}
}
