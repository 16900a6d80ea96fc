package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"petri/internal/config"
	"petri/internal/telemetry"
	"petri/pkg/petri"
)

const exportsDir = "exports"

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// runFlags override the loaded configuration only when set explicitly.
type runFlags struct {
	scape        string
	csvPath      string
	cultures     int
	generations  int
	goal         float64
	seed         int64
	store        string
	dbPath       string
	populationID string
	championsCSV string
	metricsAddr  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "petrictl",
		Short:         "Evolve neural networks across parallel cultures",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (.yaml, .yml, .ini or .cfg)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug|info|warn|error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format: text|json")

	root.AddCommand(
		newRunCmd(g, false),
		newRunCmd(g, true),
		newExportCmd(g),
		newConfigCmd(g),
	)
	return root
}

func newRunCmd(g *globalFlags, resume bool) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Seed new cultures and evolve them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvolution(cmd, g, f, resume)
		},
	}
	if resume {
		cmd.Use = "resume"
		cmd.Short = "Continue evolving the stored population"
	}
	fs := cmd.Flags()
	fs.StringVar(&f.scape, "scape", "", "scape: xor|csv|cart-pole")
	fs.StringVar(&f.csvPath, "csv", "", "dataset path for the csv scape")
	fs.IntVar(&f.cultures, "cultures", 0, "number of cultures")
	fs.IntVar(&f.generations, "generations", 0, "generations per culture, 0 runs until interrupted")
	fs.Float64Var(&f.goal, "goal", 0, "fitness goal that stops the run, 0 disables")
	fs.Int64Var(&f.seed, "seed", 0, "base random seed")
	addStoreFlags(cmd, f)
	fs.StringVar(&f.championsCSV, "champions-csv", "", "append published champions to this CSV file")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func addStoreFlags(cmd *cobra.Command, f *runFlags) {
	fs := cmd.Flags()
	fs.StringVar(&f.store, "store", "", "store backend: memory|sqlite|badger")
	fs.StringVar(&f.dbPath, "db-path", "", "database path for sqlite or badger")
	fs.StringVar(&f.populationID, "population-id", "", "population id")
}

func newExportCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	var outDir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a stored population and its champion history to disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, g, f)
			if err != nil {
				return err
			}
			client, err := petri.New(cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()
			summary, err := client.Export(cmd.Context(), petri.ExportRequest{OutDir: outDir})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported population_id=%s cultures=%d champions=%d to=%s\n",
				cfg.Run.PopulationID, summary.Cultures, summary.Records, summary.Directory)
			return nil
		},
	}
	addStoreFlags(cmd, f)
	cmd.Flags().StringVar(&outDir, "out", exportsDir, "export output directory")
	return cmd
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	var out string
	defaults := &cobra.Command{
		Use:   "defaults",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			if out != "" {
				if err := cfg.WriteYAML(out); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote config to=%s\n", out)
				return nil
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	defaults.Flags().StringVar(&out, "out", "", "write to this file instead of stdout")
	cmd.AddCommand(defaults)
	return cmd
}

// loadConfig reads the config file, applies explicitly set flags over it
// and builds the logger it asks for.
func loadConfig(cmd *cobra.Command, g *globalFlags, f *runFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}

	changed := cmd.Flags().Changed
	if changed("scape") {
		cfg.Scape.Name = f.scape
	}
	if changed("csv") {
		cfg.Scape.CSVPath = f.csvPath
		if !changed("scape") {
			cfg.Scape.Name = "csv"
		}
	}
	if changed("cultures") {
		cfg.Run.Cultures = f.cultures
	}
	if changed("generations") {
		cfg.Run.Generations = f.generations
	}
	if changed("goal") {
		cfg.Run.FitnessGoal = f.goal
	}
	if changed("seed") {
		cfg.Run.Seed = f.seed
	}
	if changed("store") {
		cfg.Storage.Kind = f.store
	}
	if changed("db-path") {
		cfg.Storage.Path = f.dbPath
	}
	if changed("population-id") {
		cfg.Run.PopulationID = f.populationID
	}
	if changed("champions-csv") {
		cfg.Telemetry.ChampionsCSV = f.championsCSV
	}
	if changed("metrics-addr") {
		cfg.Telemetry.MetricsAddr = f.metricsAddr
	}
	if err := cfg.Resolve(); err != nil {
		return nil, nil, err
	}

	logger, err := telemetry.NewLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runEvolution(cmd *cobra.Command, g *globalFlags, f *runFlags, resume bool) error {
	cfg, logger, err := loadConfig(cmd, g, f)
	if err != nil {
		return err
	}
	client, err := petri.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	stopMetrics := serveMetrics(cfg.Telemetry.MetricsAddr, telemetry.Handler(client.Registry()), logger)
	defer stopMetrics()

	started := time.Now()
	summary, err := client.Run(cmd.Context(), petri.RunRequest{Resume: resume})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	names := make([]string, 0, len(summary.Generations))
	for name := range summary.Generations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "culture=%s generation=%d\n", name, summary.Generations[name])
	}
	if summary.Champion == nil {
		fmt.Fprintf(out, "population_id=%s resumed=%t champion=none saved=%t\n",
			summary.PopulationID, summary.Resumed, summary.Saved)
		return nil
	}
	fmt.Fprintf(out, "population_id=%s resumed=%t champion_culture=%s champion_fitness=%.6f genes=%d saved=%t elapsed=%s\n",
		summary.PopulationID,
		summary.Resumed,
		summary.Culture,
		summary.Champion.Fitness,
		len(summary.Champion.Genome),
		summary.Saved,
		time.Since(started).Round(time.Millisecond),
	)
	return nil
}

// serveMetrics exposes h under /metrics until the returned func is called.
// An empty addr serves nothing.
func serveMetrics(addr string, h http.Handler, logger *slog.Logger) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
