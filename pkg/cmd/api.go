package cmd

import (
	"context"
	"strconv"

	"github.com/barkbase/automation/pkg/services"
	"github.com/barkbase/automation/pkg/web"
	"github.com/barkbase/automation/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// NewAPIApp wires the HTTP surface over the runtime's collaborators.
func NewAPIApp(rt *Runtime, maxAttempts int) *fiber.App {
	runs := workflow.NewRunCreator(rt.Persistence, rt.Gate, rt.EventBus, rt.Logger, workflow.WithMaxAttempts(maxAttempts))

	handlers := web.NewAPIHandlers(
		services.NewFlows(rt.Persistence, rt.Registry, rt.Gate, rt.EventBus, rt.Logger),
		runs,
		workflow.NewDispatcher(rt.Persistence.FlowRepository(), runs, rt.Logger),
		workflow.NewRecorder(rt.Persistence.RunLogRepository(), rt.Logger),
		rt.Persistence.RunRepository(),
		rt.Registry,
		validator.New(validator.WithRequiredStructEnabled()),
		rt.Logger,
	)

	return web.NewApp(handlers)
}

// ServeAPI listens on port until ctx is cancelled, then shuts down
// gracefully.
func ServeAPI(ctx context.Context, rt *Runtime, app *fiber.App, port int) error {
	go func() {
		<-ctx.Done()

		err := app.ShutdownWithTimeout(DefaultShutdownTimeout)
		if err != nil {
			rt.Logger.Error("failed to shut down API", "error", err)
		}
	}()

	rt.Logger.InfoContext(ctx, "API listening", "port", port)

	return app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}
