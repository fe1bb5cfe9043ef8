package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/kessaihq/kessai/internal/pkg/billing"
)

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// mapBillingError translates the billing error taxonomy into an HTTP
// response. Unknown errors become an opaque 500 so internals never leak.
func mapBillingError(c *fiber.Ctx, err error) error {
	var verr *billing.ValidationError
	if errors.As(err, &verr) {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", verr.Error())
	}

	var perr *billing.ProviderError
	if errors.As(err, &perr) {
		status := fiber.StatusBadGateway
		resp := fiber.Map{"error": "provider_error", "message": perr.Message}
		if perr.Code != "" {
			resp["code"] = perr.Code
		}
		return c.Status(status).JSON(resp)
	}

	var uerr *billing.UnexpectedStateError
	if errors.As(err, &uerr) {
		return jsonError(c, fiber.StatusBadGateway, "unexpected_provider_state", uerr.Error())
	}

	if errors.Is(err, billing.ErrNotFound) {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Record not found")
	}

	return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Something went wrong")
}
