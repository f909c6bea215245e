package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/persistence"
	"github.com/barkbase/automation/pkg/registry"
	"github.com/barkbase/automation/pkg/services"
	"github.com/barkbase/automation/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	flows      *services.Flows
	runs       *workflow.RunCreator
	dispatcher *workflow.Dispatcher
	recorder   *workflow.Recorder
	runStore   persistence.RunRepository
	registry   *registry.Registry
	validator  *validator.Validate
	logger     *slog.Logger
}

func NewAPIHandlers(
	flows *services.Flows,
	runs *workflow.RunCreator,
	dispatcher *workflow.Dispatcher,
	recorder *workflow.Recorder,
	runStore persistence.RunRepository,
	registry *registry.Registry,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		flows:      flows,
		runs:       runs,
		dispatcher: dispatcher,
		recorder:   recorder,
		runStore:   runStore,
		registry:   registry,
		validator:  validator,
		logger:     logger.With("module", "api"),
	}
}

// RegisterRoutes mounts the API on router. Everything except /health
// requires a tenant.
func (h *APIHandlers) RegisterRoutes(router fiber.Router) {
	router.Get("/health", h.HealthCheck)

	f := router.Group("/flows", RequireTenant())
	f.Get("/", h.ListFlows)
	f.Post("/", h.CreateFlow)
	f.Post("/validate", h.ValidateFlow)
	f.Get("/:id", h.GetFlow)
	f.Patch("/:id", h.UpdateFlow)
	f.Delete("/:id", h.DeleteFlow)
	f.Put("/:id/publish", h.PublishFlow)
	f.Post("/:id/archive", h.ArchiveFlow)
	f.Post("/:id/run", h.RunFlow)

	r := router.Group("/runs", RequireTenant())
	r.Get("/:id", h.GetRun)
	r.Get("/:id/logs", h.GetRunLogs)

	e := router.Group("/events", RequireTenant())
	e.Post("/", h.PostEvent)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.flows.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusServiceUnavailable

	if regOk && repOk {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) ListFlows(c fiber.Ctx) error {
	var status *models.FlowStatus

	if raw := c.Query("status"); raw != "" {
		s := models.FlowStatus(raw)
		status = &s
	}

	flows, err := h.flows.List(c.Context(), tenantID(c), status)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(FlowListResponse{Flows: flows, Total: len(flows)})
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow, err := h.flows.CreateDraft(c.Context(), tenantID(c), userID(c), req.input())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(flow)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	flow, err := h.flows.Get(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) UpdateFlow(c fiber.Ctx) error {
	var req UpdateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow, err := h.flows.Update(c.Context(), tenantID(c), c.Params("id"), userID(c), req.patch())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) DeleteFlow(c fiber.Ctx) error {
	err := h.flows.Delete(c.Context(), tenantID(c), c.Params("id"), userID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) PublishFlow(c fiber.Ctx) error {
	flow, err := h.flows.Publish(c.Context(), tenantID(c), c.Params("id"), userID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) ArchiveFlow(c fiber.Ctx) error {
	flow, err := h.flows.Archive(c.Context(), tenantID(c), c.Params("id"), userID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

// ValidateFlow checks a definition without storing anything.
func (h *APIHandlers) ValidateFlow(c fiber.Ctx) error {
	var req ValidateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	return c.JSON(services.Validate(req.Definition))
}

// RunFlow starts a manual run. Repeating the call with the same idempotency
// key returns the existing run with 200 instead of 201.
func (h *APIHandlers) RunFlow(c fiber.Ctx) error {
	var req RunFlowRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}

		if err := h.validator.Struct(req); err != nil {
			return badRequest(c, err.Error())
		}
	}

	result, err := h.runs.RunManually(c.Context(), tenantID(c), c.Params("id"), req.Payload, req.IdempotencyKey)
	if err != nil {
		return handleServiceError(c, err)
	}

	status := fiber.StatusOK
	if result.Created {
		status = fiber.StatusCreated
	}

	return c.Status(status).JSON(result)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.runStore.GetByID(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetRunLogs(c fiber.Ctx) error {
	runID := c.Params("id")

	_, err := h.runStore.GetByID(c.Context(), tenantID(c), runID)
	if err != nil {
		return handleServiceError(c, err)
	}

	logs, err := h.recorder.Logs(c.Context(), tenantID(c), runID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(RunLogsResponse{Logs: logs})
}

// PostEvent dispatches a business event to every matching published flow.
// Partial failures are logged; the runs that could be created still count.
func (h *APIHandlers) PostEvent(c fiber.Ctx) error {
	var req EventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if req.TenantID != "" && req.TenantID != tenantID(c) {
		return forbidden(c, "tenantId does not match the "+TenantHeader+" header")
	}

	created, err := h.dispatcher.HandleEvent(c.Context(), tenantID(c), req.Type, req.Payload, req.IdempotencyKey)
	if err != nil && created == 0 {
		return handleServiceError(c, err)
	}

	if err != nil {
		h.logger.WarnContext(c.Context(), "event partially dispatched", "tenant_id", tenantID(c), "event", req.Type, "error", err)
	}

	return c.Status(fiber.StatusAccepted).JSON(EventResponse{CreatedRuns: created})
}
