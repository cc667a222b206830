package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quailyquaily/finnygate/cmd/finnygate/gatewaycmd"
	"github.com/quailyquaily/finnygate/cmd/finnygate/slackmockcmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "finnygate",
		Short:         "Slack threaded-events gateway for the finance assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file path")
	cobra.OnInitialize(func() { initConfig(root) })

	root.AddCommand(gatewaycmd.NewCommand())
	root.AddCommand(slackmockcmd.NewCommand())
	return root
}

func initConfig(root *cobra.Command) {
	// Local .env files are a convenience for development; missing files
	// are not an error.
	_ = godotenv.Load()

	viper.SetEnvPrefix("FINNYGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if cfgFile, err := root.PersistentFlags().GetString("config"); err == nil && strings.TrimSpace(cfgFile) != "" {
		viper.SetConfigFile(strings.TrimSpace(cfgFile))
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintln(os.Stderr, "error: read config:", err)
			os.Exit(1)
		}
		return
	}

	viper.SetConfigName("finnygate")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "error: read config:", err)
			os.Exit(1)
		}
	}
}

func setDefaults() {
	viper.SetDefault("slack.base_url", "https://slack.com/api")
	viper.SetDefault("gateway.listen", "127.0.0.1:8090")
	viper.SetDefault("gateway.freshness_window", "5m")
	viper.SetDefault("gateway.dedup_window", "5m")
	viper.SetDefault("gateway.task_timeout", "30s")
	viper.SetDefault("gateway.max_concurrency", 3)
	viper.SetDefault("gateway.queue_size", 16)
	viper.SetDefault("gateway.mode", "live")
	viper.SetDefault("audit.db_path", "finnygate_audit.db")
	viper.SetDefault("ratelimit.per_minute", 10)
	viper.SetDefault("recordstore.base_url", "")
	viper.SetDefault("recordstore.token", "")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("mock.listen", "127.0.0.1:8091")
	viper.SetDefault("mock.seed_file", "")
}
