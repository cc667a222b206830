// Package configutil resolves settings with flag-over-config precedence:
// an explicitly set cobra flag wins, otherwise the viper key is read.
package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func FlagOrViperString(cmd *cobra.Command, flagName, viperKey string) string {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetString(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey == "" {
		return ""
	}
	return viper.GetString(viperKey)
}

func FlagOrViperInt(cmd *cobra.Command, flagName, viperKey string) int {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetInt(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey == "" {
		return 0
	}
	return viper.GetInt(viperKey)
}

func FlagOrViperDuration(cmd *cobra.Command, flagName, viperKey string) time.Duration {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetDuration(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey == "" {
		return 0
	}
	return viper.GetDuration(viperKey)
}

func FlagOrViperBool(cmd *cobra.Command, flagName, viperKey string) bool {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetBool(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey == "" {
		return false
	}
	return viper.GetBool(viperKey)
}

// Logger builds the process logger from the log.format and log.level
// viper keys.
func Logger() (*slog.Logger, error) {
	level, err := parseLevel(viper.GetString("log.level"))
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch format := strings.ToLower(strings.TrimSpace(viper.GetString("log.format"))); format {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log.format %q (want text or json)", format)
	}
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log.level %q", raw)
	}
}
