package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"notes-sync-indexer/internal/domain"
	"notes-sync-indexer/internal/service"

	"github.com/spf13/cobra"
)

func syncCmd() *cobra.Command {
	var printReport bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync and exit",
		Long: `Run one incremental sync against iCloud Notes and exit.

When a second factor is needed the code is fetched from the server at
SERVER_URL, where it is entered through the /verify page.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := runSync(ctx)
			if report != nil && printReport {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				enc.Encode(report)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&printReport, "report", false, "print the sync report as JSON")
	return cmd
}

func runSync(ctx context.Context) (*domain.SyncReport, error) {
	a, err := newApp(ctx)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	if err := a.cfg.RequireSync(); err != nil {
		return nil, err
	}

	var codes service.CodeSource
	if a.cfg.Verify.ServerURL != "" && a.cfg.Verify.Key != "" {
		codes = service.NewHTTPCodeSource(a.cfg.Verify.ServerURL, a.cfg.Verify.Key, nil)
	} else {
		slog.Warn("SERVER_URL or VERIFY_KEY not set, a second factor prompt will time out")
		codes = service.NewMailbox()
	}

	authService := a.authService(codes, logPublisher{}, verifyURL(a.cfg.Verify.ServerURL, a.cfg.Server.Host, a.cfg.Server.Port))
	syncService, err := a.syncService(authService, logPublisher{})
	if err != nil {
		return nil, err
	}

	report, err := syncService.Run(ctx)
	if err != nil {
		return report, fmt.Errorf("sync aborted: %w", err)
	}
	if report.Failed() {
		return report, errors.New("sync finished with failures")
	}
	return report, nil
}

// logPublisher surfaces the second factor prompt when no event stream is
// attached.
type logPublisher struct{}

func (logPublisher) Publish(ctx context.Context, event domain.Event) {
	if p, ok := event.Payload.(domain.SecondFactorPayload); ok {
		slog.Warn("second factor required, enter the code sent to your device",
			"verify_url", p.VerifyURL, "username", p.Username)
	}
}
