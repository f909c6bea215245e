package web

import (
	"github.com/barkbase/automation/pkg/persistence"
	"github.com/barkbase/automation/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, problemType, detail string) error {
	body := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(body)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func unauthorized(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusUnauthorized, "unauthorized", detail)
}

func forbidden(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusForbidden, "tenant_mismatch", detail)
}

func internalError(c fiber.Ctx, err error) error {
	body := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(body)
}

// handleServiceError maps service and persistence errors to responses.
// Definition errors keep their plain {errors: [...]} body so editors can list
// every violation.
func handleServiceError(c fiber.Ctx, err error) error {
	if defErr, ok := services.IsDefinitionError(err); ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"errors": defErr.Errors})
	}

	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case services.IsForbiddenError(err):
		return problem(c, fiber.StatusForbidden, "feature_not_allowed", err.Error())

	case services.IsConflictError(err):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())

	case persistence.IsFlowNotFound(err):
		return problem(c, fiber.StatusNotFound, "flow_not_found", "flow not found")

	case persistence.IsRunNotFound(err):
		return problem(c, fiber.StatusNotFound, "run_not_found", "run not found")

	default:
		return internalError(c, err)
	}
}
