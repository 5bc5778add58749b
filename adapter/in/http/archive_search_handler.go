package http

import (
	"github.com/gofiber/fiber/v2"

	"archive_server/core/service/search"
	"archive_server/pkg/response"
)

// SearchHandler fronts the full-text index.
type SearchHandler struct {
	search *search.Service
}

func NewSearchHandler(searchSvc *search.Service) *SearchHandler {
	return &SearchHandler{search: searchSvc}
}

func (h *SearchHandler) Register(app fiber.Router) {
	app.Get("/search", h.Search)
}

// Search runs a multifield query. Without a list parameter only public
// lists are searched.
func (h *SearchHandler) Search(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return response.BadRequest(c, "q is required")
	}
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 10)

	result, err := h.search.Search(c.UserContext(), query, c.Query("list"), page, limit)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OKWithMeta(c, result.Results, &response.Meta{
		Total:    int(result.Total),
		Page:     page,
		PageSize: limit,
	})
}
