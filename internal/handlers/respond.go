// Package handlers holds the REST surface. Handlers only bind request
// bodies, call a service and translate the result; every rule lives in
// the services.
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/yourorg/chatserver/internal/apperr"
)

func respondError(c *fiber.Ctx, err error) error {
	return c.Status(apperr.Status(err)).JSON(fiber.Map{
		"error": apperr.Message(err),
	})
}
