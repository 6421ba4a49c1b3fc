// Package web provides HTTP request and response types for the completion gateway.
package web

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/leadpipe/orchestrator/pkg/services"
)

// CallbackResponse is returned by every callback endpoint.
type CallbackResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
	Error       string `json:"error,omitempty"`
}

func fromResult(result *services.Result) CallbackResponse {
	return CallbackResponse{
		Success:     result.Success,
		Message:     result.Message,
		ExecutionID: result.ExecutionID,
	}
}

// NewValidator reports field errors under their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		if name == "" {
			return field.Name
		}

		return name
	})

	return v
}
