package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

type ServerOptions struct {
	Listen string
	Intake *Intake
}

// StartServer binds the intake routes and serves them until ctx is
// cancelled. The listener is bound synchronously so callers see bad
// addresses immediately.
func StartServer(ctx context.Context, logger *slog.Logger, opts ServerOptions) (*http.Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	listen := strings.TrimSpace(opts.Listen)
	if listen == "" {
		return nil, errors.New("empty gateway listen address")
	}
	if opts.Intake == nil {
		return nil, errors.New("intake is required")
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           opts.Intake.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway_server_error", "addr", listen, "error", err.Error())
		}
	}()

	logger.Info("gateway_server_start",
		"addr", listen,
		"events_path", "/slack/events",
		"metrics_path", "/metrics",
	)
	return srv, nil
}
