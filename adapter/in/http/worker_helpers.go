package http

import (
	"assist_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// bindJSON decodes the request body into v.
func bindJSON(c *fiber.Ctx, v interface{}) error {
	if len(c.Body()) == 0 {
		return apperr.BadRequest("request body is required")
	}
	if err := c.BodyParser(v); err != nil {
		return apperr.BadRequest("invalid request body").WithError(err)
	}
	return nil
}
