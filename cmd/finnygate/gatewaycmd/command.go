// Package gatewaycmd runs the Slack events gateway daemon.
package gatewaycmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/quailyquaily/finnygate/internal/audit"
	"github.com/quailyquaily/finnygate/internal/configutil"
	"github.com/quailyquaily/finnygate/internal/dedup"
	"github.com/quailyquaily/finnygate/internal/dispatch"
	"github.com/quailyquaily/finnygate/internal/gateway"
	"github.com/quailyquaily/finnygate/internal/ratelimit"
	"github.com/quailyquaily/finnygate/internal/recordstore"
	"github.com/quailyquaily/finnygate/internal/runner"
	"github.com/quailyquaily/finnygate/internal/signature"
	"github.com/quailyquaily/finnygate/internal/slackapi"
)

const (
	ModeLive = "live"
	ModeMock = "mock"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the Slack events gateway",
		RunE:  runGateway,
	}
	cmd.Flags().String("listen", "", "gateway listen address")
	cmd.Flags().String("signing-secret", "", "Slack signing secret")
	cmd.Flags().String("bot-token", "", "Slack bot token")
	cmd.Flags().String("slack-base-url", "", "Slack Web API base URL")
	cmd.Flags().Duration("freshness-window", 0, "max request timestamp drift")
	cmd.Flags().Duration("dedup-window", 0, "duplicate suppression window")
	cmd.Flags().Duration("task-timeout", 0, "per-task processing ceiling")
	cmd.Flags().Int("max-concurrency", 0, "max concurrent tasks")
	cmd.Flags().Int("queue-size", 0, "per-thread job buffer size")
	cmd.Flags().String("audit-db", "", "audit log sqlite path")
	cmd.Flags().Int("ratelimit-per-minute", 0, "queries per requestor per minute")
	cmd.Flags().String("recordstore-base-url", "", "record store base URL")
	cmd.Flags().String("mode", "", "gateway mode (live or mock)")
	return cmd
}

func runGateway(cmd *cobra.Command, _ []string) error {
	logger, err := configutil.Logger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	signingSecret := strings.TrimSpace(configutil.FlagOrViperString(cmd, "signing-secret", "slack.signing_secret"))
	if signingSecret == "" {
		return fmt.Errorf("missing slack.signing_secret (set via --signing-secret or FINNYGATE_SLACK_SIGNING_SECRET)")
	}
	botToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "bot-token", "slack.bot_token"))
	if botToken == "" {
		return fmt.Errorf("missing slack.bot_token (set via --bot-token or FINNYGATE_SLACK_BOT_TOKEN)")
	}
	mode := strings.ToLower(strings.TrimSpace(configutil.FlagOrViperString(cmd, "mode", "gateway.mode")))
	if mode == "" {
		mode = ModeLive
	}
	if mode != ModeLive && mode != ModeMock {
		return fmt.Errorf("unknown gateway.mode %q (want live or mock)", mode)
	}

	slackBaseURL := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-base-url", "slack.base_url"))
	if mode == ModeMock && (slackBaseURL == "" || slackBaseURL == "https://slack.com/api") {
		mockListen := strings.TrimSpace(configutil.FlagOrViperString(cmd, "", "mock.listen"))
		if mockListen == "" {
			return fmt.Errorf("mock mode needs slack.base_url or mock.listen")
		}
		slackBaseURL = "http://" + mockListen + "/api"
	}

	recordstoreBaseURL := strings.TrimSpace(configutil.FlagOrViperString(cmd, "recordstore-base-url", "recordstore.base_url"))
	if recordstoreBaseURL == "" {
		return fmt.Errorf("missing recordstore.base_url (set via --recordstore-base-url or FINNYGATE_RECORDSTORE_BASE_URL)")
	}

	verifier, err := signature.NewVerifier(signature.VerifierOptions{
		SigningSecret: signingSecret,
		Freshness:     configutil.FlagOrViperDuration(cmd, "freshness-window", "gateway.freshness_window"),
	})
	if err != nil {
		return err
	}

	auditPath := strings.TrimSpace(configutil.FlagOrViperString(cmd, "audit-db", "audit.db_path"))
	auditLog, err := audit.Open(auditPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer func() { _ = auditLog.Close() }()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	slackClient := slackapi.NewClient(httpClient, slackBaseURL, botToken)
	identity, err := slackClient.AuthTest(cmd.Context())
	if err != nil {
		return fmt.Errorf("slack auth.test: %w", err)
	}
	logger.Info("slack_identity",
		"mode", mode,
		"team_id", identity.TeamID,
		"user_id", identity.UserID,
		"bot_id", identity.BotID,
	)

	records := recordstore.NewClient(httpClient, recordstoreBaseURL, strings.TrimSpace(configutil.FlagOrViperString(cmd, "", "recordstore.token")))
	lookup, err := runner.NewLookupRunner(runner.LookupRunnerOptions{
		Records: records,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	limiter := ratelimit.NewLimiter(configutil.FlagOrViperInt(cmd, "ratelimit-per-minute", "ratelimit.per_minute"), nil)

	taskTimeout := configutil.FlagOrViperDuration(cmd, "task-timeout", "gateway.task_timeout")
	maxConc := configutil.FlagOrViperInt(cmd, "max-concurrency", "gateway.max_concurrency")
	queueSize := configutil.FlagOrViperInt(cmd, "queue-size", "gateway.queue_size")
	dispatcher, err := dispatch.NewDispatcher(dispatch.Options{
		Runner:         lookup,
		Poster:         slackClient,
		Audit:          auditLog,
		Limiter:        limiter,
		Logger:         logger,
		TaskTimeout:    taskTimeout,
		MaxConcurrency: maxConc,
		QueueSize:      queueSize,
	})
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	dedupWindow := configutil.FlagOrViperDuration(cmd, "dedup-window", "gateway.dedup_window")
	intake, err := gateway.NewIntake(gateway.IntakeOptions{
		Verifier:   verifier,
		Dedup:      dedup.NewStore(dedupWindow, nil),
		Dispatcher: dispatcher,
		Audit:      auditLog,
		Logger:     logger,
		Registry:   prometheus.NewRegistry(),
	})
	if err != nil {
		return err
	}

	listen := strings.TrimSpace(configutil.FlagOrViperString(cmd, "listen", "gateway.listen"))
	srv, err := gateway.StartServer(cmd.Context(), logger, gateway.ServerOptions{
		Listen: listen,
		Intake: intake,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()

	logger.Info("gateway_start",
		"listen", listen,
		"mode", mode,
		"slack_base_url", slackBaseURL,
		"task_timeout", taskTimeout.String(),
		"max_concurrency", maxConc,
		"queue_size", queueSize,
		"audit_db", auditPath,
	)

	<-cmd.Context().Done()
	logger.Info("gateway_stop")
	return nil
}
