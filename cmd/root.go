// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartprobe/internal/config"
	"github.com/xkilldash9x/cartprobe/internal/observability"
)

type contextKey string

// configKey stores the validated config.Interface in a command's context.
const configKey contextKey = "config"

// ErrMismatch is returned when an audited cart's displayed total disagrees with the sum
// of its rows. main maps it to its own exit code.
var ErrMismatch = errors.New("cart total mismatch")

var cfgFile string

// NewRootCommand builds a fresh command tree. Each call returns independent flag state.
func NewRootCommand() *cobra.Command {
	return newRootCmd(newDefaultDeps())
}

// deps carries the external collaborators subcommands create, so tests can swap them.
type deps struct {
	browsers browserLauncher
	stores   storeProvider
}

func newDefaultDeps() deps {
	return deps{browsers: chromeLauncher{}, stores: NewStoreProvider()}
}

func newRootCmd(d deps) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cartprobe",
		Short:         "cartprobe audits shopping cart totals in a real browser.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(v); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "cartprobe"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Info("Starting cartprobe.", zap.String("version", Version))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, configKey, cfg))
			return nil
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./cartprobe.yaml, then ~/cartprobe.yaml)")

	rootCmd.AddCommand(newAuditCmd(d))
	rootCmd.AddCommand(newReconcileCmd(d))
	rootCmd.AddCommand(newHistoryCmd(d))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command tree with ctx and flushes the logger afterwards.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	err := NewRootCommand().ExecuteContext(ctx)
	switch {
	case err == nil, errors.Is(err, ErrMismatch):
	case errors.Is(err, context.Canceled):
		observability.GetLogger().Warn("Command cancelled.")
	default:
		observability.GetLogger().Error("Command execution failed.", zap.Error(err))
	}
	return err
}

// initializeConfig points v at the config file and the CARTPROBE_ environment. A missing
// default config file is not an error; a missing --config file is.
func initializeConfig(v *viper.Viper) error {
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return fmt.Errorf("invalid config path: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName("cartprobe")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CARTPROBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// getConfigFromContext returns the configuration stored by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not found in command context")
	}
	return cfg, nil
}
