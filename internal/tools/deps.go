// Package tools provides MCP tool handlers and registration.
package tools

import (
	"context"
	"log/slog"

	"github.com/raphaelgruber/dataquality/internal/app"
	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/service"
)

// Dependencies holds shared services for tool handlers.
// Passed to handler factories via closure capture.
type Dependencies struct {
	App    *app.App
	Logger *slog.Logger
}

// withEngine loads the engine of datasetID (the configured dataset when
// empty), runs fn and flushes the session. Each tool call is one session.
func (d *Dependencies) withEngine(ctx context.Context, datasetID string, fn func(e *service.Engine) error) (err error) {
	e, err := d.App.Engine(ctx, datasetID)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := e.Unload(context.WithoutCancel(ctx)); err == nil {
			err = uerr
		}
	}()
	return fn(e)
}

// openAnalysis navigates to issue's analysis screen the way its home card
// would.
func openAnalysis(ctx context.Context, e *service.Engine, issue models.IssueType) error {
	target, err := e.NavigationTarget(ctx, issue)
	if err != nil {
		return err
	}
	return e.Navigate(ctx, issue, service.ScreenAnalysis, target.Recompute)
}
