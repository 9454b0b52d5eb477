package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyike/CortexThesis/config"
	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/internal/graph"
	"github.com/dyike/CortexThesis/internal/logging"
	"github.com/dyike/CortexThesis/internal/server"
	"github.com/dyike/CortexThesis/internal/storage"
	"github.com/dyike/CortexThesis/models"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	return newRootCmd(newApp())
}

func newRootCmd(a *cliApp) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cortexthesis",
		Short: "CortexThesis - multi-branch LLM stock research",
		Long: `CortexThesis researches a stock across fundamental, technical, macro, industry,
peer, headline and SEC filings branches, merges the findings into one thesis and
revises it until it passes a compliance review.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}
	rootCmd.SetOut(a.out)
	rootCmd.SetErr(a.errOut)

	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newAnalyzeCmd(a))
	rootCmd.AddCommand(newHistoryCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))
	rootCmd.AddCommand(newVersionCmd(a))

	rootCmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Configuration file path (created with defaults if missing)")

	return rootCmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newServeCmd(a *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
				a.cfg.ListenAddr = addr
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runServe(ctx, a)
		},
	}
	cmd.Flags().String("listen", "", "Listen address (overrides listen_addr)")
	return cmd
}

func runServe(ctx context.Context, a *cliApp) error {
	logger := logging.Component("cli")

	eng, err := a.newEngine(ctx, *a.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn().Err(err).Msg("close engine")
		}
	}()

	store, err := storage.Open(a.cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer store.Close()
	recorder, err := storage.NewRecorder(store)
	if err != nil {
		return err
	}
	defer recorder.Close()

	srv, err := server.New(a.cfg, server.Deps{
		Analyzer: eng.Analyzer,
		History:  store,
		Recorder: recorder,
		Cache:    eng.Cache,
		Version:  Version,
	})
	if err != nil {
		return err
	}

	if a.mgr != nil {
		// Only the log level is applied live; everything else needs a restart.
		err := a.mgr.Watch(ctx, func(c config.Config) {
			logging.SetLevel(c.LogLevel)
			logger.Info().Str("level", c.LogLevel).Msg("config reloaded")
		})
		if err != nil {
			logger.Warn().Err(err).Msg("config watch unavailable")
		}
	}

	if err := srv.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return srv.Stop(context.Background())
}

func newAnalyzeCmd(a *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [TICKER]",
		Short: "Research one ticker and print the thesis",
		Long: `Research one ticker and print the thesis.
Without a ticker the command prompts for the request.
Example: cortexthesis analyze AAPL --duration long --direction long`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			duration, _ := cmd.Flags().GetString("duration")
			direction, _ := cmd.Flags().GetString("direction")

			var (
				id  models.Identity
				err error
			)
			if len(args) == 1 {
				id, err = graph.ParseIdentity(args[0], duration, direction)
			} else {
				if !cmd.Flags().Changed("duration") {
					duration = ""
				}
				if !cmd.Flags().Changed("direction") {
					direction = ""
				}
				id, err = PromptForIdentity("", duration, direction)
			}
			if err != nil {
				return err
			}

			opts := analyzeOptions{}
			opts.asJSON, _ = cmd.Flags().GetBool("json")
			opts.noSave, _ = cmd.Flags().GetBool("no-save")
			opts.quiet, _ = cmd.Flags().GetBool("quiet")

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runAnalyze(ctx, a, id, opts)
		},
	}
	cmd.Flags().String("duration", string(consts.DurationMedium), "Trade duration: short, medium or long")
	cmd.Flags().String("direction", string(consts.DirectionLong), "Trade direction: long or short")
	cmd.Flags().Bool("json", false, "Print the response as JSON")
	cmd.Flags().Bool("no-save", false, "Do not write the report or record the run")
	cmd.Flags().BoolP("quiet", "q", false, "Hide node progress")
	return cmd
}

type analyzeOptions struct {
	asJSON bool
	noSave bool
	quiet  bool
}

func runAnalyze(ctx context.Context, a *cliApp, id models.Identity, opts analyzeOptions) error {
	eng, err := a.newEngine(ctx, *a.cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	var propOpts []graph.PropagateOption
	done := make(chan struct{})
	if !opts.quiet {
		events := make(chan models.NodeEvent, 64)
		propOpts = append(propOpts, graph.WithEvents(events))
		go func() {
			defer close(done)
			for ev := range events {
				fmt.Fprintln(a.errOut, RenderProgress(ev))
			}
		}()
		defer func() {
			close(events)
			<-done
		}()
	}

	st, runErr := eng.Analyzer.Propagate(ctx, id, propOpts...)

	if !opts.noSave {
		if err := a.record(ctx, id, st, runErr); err != nil {
			logging.FromContext(ctx).Warn().Err(err).Msg("record run")
		}
	}
	if runErr != nil {
		return runErr
	}

	if opts.asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(models.NewAnalyzeResponse(st))
	}
	RenderReport(a.out, st)
	if !opts.noSave {
		path, err := NewResultsManager(a.cfg.ResultsDir).Save(st)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "\nreport saved to %s\n", path)
	}
	return nil
}

func (a *cliApp) record(ctx context.Context, id models.Identity, st *models.State, runErr error) error {
	store, err := storage.Open(a.cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(ctx, storage.NewRunRecord("", id, st, graph.RunStatus(runErr), runErr))
}

func newHistoryCmd(a *cliApp) *cobra.Command {
	var p models.HistoryParams
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.Open(a.cfg.DatabasePath())
			if err != nil {
				return err
			}
			defer store.Close()
			page, err := store.List(cmd.Context(), p)
			if err != nil {
				return err
			}
			RenderHistory(a.out, page)
			return nil
		},
	}
	cmd.Flags().StringVar(&p.Ticker, "ticker", "", "Only runs for this ticker")
	cmd.Flags().Int64Var(&p.BeforeId, "before", 0, "Only runs older than this id")
	cmd.Flags().IntVar(&p.Limit, "limit", 20, "Page size (max 200)")
	return cmd
}

func newConfigCmd(a *cliApp) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON, secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(masked(*a.cfg))
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			if a.mgr == nil {
				fmt.Fprintln(a.out, "(environment only, pass --config to use a file)")
				return
			}
			fmt.Fprintln(a.out, a.mgr.Path())
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "configuration ok")
			return nil
		},
	})
	return configCmd
}

func masked(c config.Config) config.Config {
	for _, s := range []*string{
		&c.DeepSeekAPIKey, &c.OpenAIAPIKey, &c.FinnhubAPIKey, &c.FredAPIKey,
		&c.LongportAppKey, &c.LongportAppSecret, &c.LongportAccessToken,
	} {
		if *s != "" {
			*s = "***"
		}
	}
	return c
}

func newVersionCmd(a *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "cortexthesis %s\n", Version)
		},
	}
}
