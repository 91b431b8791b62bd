package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/extendspider-console/internal/app"
	"github.com/JakeFAU/extendspider-console/internal/config"
	"github.com/JakeFAU/extendspider-console/internal/logging"
	discover "github.com/JakeFAU/extendspider-console/pkg/config"
)

type runtimeKey struct{}

// runtime is what PersistentPreRunE hands to subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	output string
}

// newConsole is the console factory. Tests replace it to control the
// metrics registry and the backend.
var newConsole = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.Console, error) {
	return app.BuildConsole(ctx, cfg, logger, app.WithRegisterer(prometheus.DefaultRegisterer))
}

type rootFlags struct {
	cfgFile string
	envFile string
	output  string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "spiderctl",
		Short: "Manage ExtendSpider crawler configuration.",
		Long: `spiderctl edits the ExtendSpider plugin configuration: enable or disable
spiders, reset them to their built-in defaults, manage tags and save the
result. It also shows the plugin status and recent activity, and can run
the reference plugin backend.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := flags.load()
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, rt))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey{}).(*runtime); ok {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flags.cfgFile, "config", "", "config file (default is ./spiderctl.yaml, $HOME/.spiderctl or /etc/spiderctl)")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before configuration")
	cmd.PersistentFlags().StringVarP(&flags.output, "output", "o", outputTable, "output format: table, json or yaml")

	cmd.AddCommand(newServeCmd(), newStatusCmd(), newConfigCmd())
	return cmd
}

func (f *rootFlags) load() (*runtime, error) {
	if err := validateOutput(f.output); err != nil {
		return nil, err
	}
	if f.envFile != "" {
		if err := godotenv.Load(f.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f.envFile, err)
		}
	}
	path := f.cfgFile
	if path == "" {
		found, err := discover.Discover()
		if err != nil {
			return nil, err
		}
		path = found
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return &runtime{cfg: cfg, logger: logger, output: f.output}, nil
}

func runtimeFrom(cmd *cobra.Command) (*runtime, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("command runtime not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
