package http

import (
	"assist_worker/core/domain"
	"assist_worker/core/port/in"
	"assist_worker/pkg/apperr"
	"assist_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// OperationHandler exposes the operation dispatcher over HTTP.
type OperationHandler struct {
	service in.OperationService
}

func NewOperationHandler(service in.OperationService) *OperationHandler {
	return &OperationHandler{service: service}
}

// Register registers operation routes
func (h *OperationHandler) Register(router fiber.Router) {
	router.Post("/operations", h.Dispatch)
	router.Get("/formats", h.Formats)
}

// OperationRequest is the wire form of a batch request.
type OperationRequest struct {
	Operation  string            `json:"operation"`
	ItemIDs    []string          `json:"item_ids"`
	Parameters domain.Parameters `json:"parameters"`
}

// Dispatch runs one batch. Configuration errors reject the whole request;
// item failures are reported inside a 200 response.
func (h *OperationHandler) Dispatch(c *fiber.Ctx) error {
	var req OperationRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	kind, err := domain.ParseOperationKind(req.Operation)
	if err != nil {
		return apperr.UnknownOperation(req.Operation)
	}

	batch, err := h.service.Dispatch(c.UserContext(), domain.OperationRequest{
		Operation:  kind,
		ItemIDs:    req.ItemIDs,
		Parameters: req.Parameters,
	})
	if err != nil {
		return err
	}

	return response.OKWithMeta(c, batch, &response.Meta{
		Total:     batch.Len(),
		Succeeded: batch.Succeeded,
		Failed:    batch.Failed,
		Cancelled: batch.Cancelled,
	})
}

// Formats lists CAD import/export formats and export templates.
func (h *OperationHandler) Formats(c *fiber.Ctx) error {
	return response.OK(c, h.service.Catalogue())
}
