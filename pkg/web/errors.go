package web

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/leadpipe/orchestrator/pkg/services"
	"github.com/moogar0880/problems"
)

// genericFailure is the only failure text callers ever see for internal errors.
const genericFailure = "failed to process request"

// ValidationProblem is a 400 problem carrying per-field messages.
type ValidationProblem struct {
	*problems.DefaultProblem

	Errors map[string]string `json:"errors,omitempty"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func invalidFields(c fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return badRequest(c, err.Error())
	}

	fields := make(map[string]string, len(validationErrors))

	for _, fieldErr := range validationErrors {
		fields[fieldErr.Field()] = fieldMessage(fieldErr)
	}

	problem := ValidationProblem{
		DefaultProblem: problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("validation_error").
			WithDetail("request body failed validation"),
		Errors: fields,
	}

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func fieldMessage(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fieldErr.Param()
	default:
		return "failed " + fieldErr.Tag() + " validation"
	}
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithDetail(genericFailure)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// callbackFailure answers the engine in the gateway's {success, error} shape.
func callbackFailure(c fiber.Ctx, err error) error {
	var serviceErr *services.ServiceError

	switch {
	case services.IsNotFoundError(err) && errors.As(err, &serviceErr):
		return c.Status(fiber.StatusNotFound).JSON(CallbackResponse{Success: false, Error: serviceErr.Message})
	case services.IsValidationError(err):
		return badRequest(c, err.Error())
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(CallbackResponse{Success: false, Error: genericFailure})
	}
}
