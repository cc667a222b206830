// Package slackmockcmd runs the mock Slack workspace used for local
// development and end-to-end tests.
package slackmockcmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/finnygate/internal/configutil"
	"github.com/quailyquaily/finnygate/internal/slackmock"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slack-mock",
		Short: "Run the mock Slack workspace server",
		RunE:  runMock,
	}
	cmd.Flags().String("listen", "", "mock server listen address")
	cmd.Flags().String("seed-file", "", "JSON seed file with channels, users and messages")
	return cmd
}

func runMock(cmd *cobra.Command, _ []string) error {
	logger, err := configutil.Logger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	store := slackmock.NewStore(time.Now)
	seedFile := strings.TrimSpace(configutil.FlagOrViperString(cmd, "seed-file", "mock.seed_file"))
	if seedFile != "" {
		if err := store.LoadSeed(seedFile); err != nil {
			return fmt.Errorf("load seed file: %w", err)
		}
		logger.Info("slack_mock_seed_loaded", "path", seedFile)
	}

	listen := strings.TrimSpace(configutil.FlagOrViperString(cmd, "listen", "mock.listen"))
	srv, err := slackmock.StartServer(cmd.Context(), logger, listen, store)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()

	<-cmd.Context().Done()
	logger.Info("slack_mock_stop")
	return nil
}
