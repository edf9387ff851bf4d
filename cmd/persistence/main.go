// Command persistence loads a models directory, connects its datastores and
// reports the registered models.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rzpsarthak13/persistence/internal/adapter"
	"github.com/rzpsarthak13/persistence/internal/events"
	"github.com/rzpsarthak13/persistence/pkg/persistence"
)

var (
	configPath string
	modelsDir  string
	verbose    bool
	timeout    time.Duration
	watch      bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "persistence",
	Short: "Model registry over the persistence adapters",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect every model and list the result",
	Long: `Loads the models directory, initializes the datastores and prints the
connected models. With --watch the command keeps running, logs model events
and reloads when model files change.`,
	RunE: runConnect,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model definitions of the models directory",
	RunE:  runModels,
}

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List the registered datastore adapters",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range adapter.RegisteredTypes() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (.yaml, .yml or .json)")
	rootCmd.PersistentFlags().StringVarP(&modelsDir, "models", "m", "", "Models directory (default: ./models)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	connectCmd.Flags().DurationVar(&timeout, "timeout", 0, "ORM initialization timeout (default: from config)")
	connectCmd.Flags().BoolVar(&watch, "watch", false, "Keep running and reload on model file changes")

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(adaptersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*persistence.Config, error) {
	cfg := persistence.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = persistence.LoadConfig(configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if modelsDir != "" {
		cfg.ModelsDir = modelsDir
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	cfg.Watch = cfg.Watch || watch
	return cfg, nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := persistence.New(cfg, persistence.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.Close(closeCtx); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}()

	sub := p.Subscribe(256)
	go func() {
		for d := range sub.C() {
			logger.Info("event", zap.String("type", d.Type), zap.Any("payload", d.Payload))
		}
	}()

	if _, err := p.Connect(ctx); err != nil {
		return err
	}
	printModels(cmd, p)

	if !cfg.Watch {
		return nil
	}
	p.On(events.EventType(cfg.EventTypePrefix, persistence.EventReloaded), func(string, any) { printModels(cmd, p) })
	if err := persistence.Watch(ctx, p); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func printModels(cmd *cobra.Command, p *persistence.Persistence) {
	models := p.Models()
	ids := make([]string, 0, len(models))
	for id := range models {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tEXPORT\tDATASTORE\tPRIMARY KEY")
	for _, id := range ids {
		m := models[id]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, m.ExportName(), m.Datastore(), m.PrimaryKey())
	}
	_ = w.Flush()
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := persistence.New(cfg, persistence.WithLogger(logger))
	if err != nil {
		return err
	}
	defer p.Close(context.Background())

	ids, err := p.LoadDirectory(cmd.Context(), cfg.ModelsDir)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}
