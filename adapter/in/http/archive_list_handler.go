package http

import (
	"github.com/gofiber/fiber/v2"

	"archive_server/core/domain"
	"archive_server/core/port/out"
	"archive_server/core/service/aggregate"
	"archive_server/pkg/apperr"
	"archive_server/pkg/response"
)

// ListHandler serves the archived-list catalog and per-list activity.
type ListHandler struct {
	store out.Store
	stats *aggregate.Service
}

func NewListHandler(store out.Store, stats *aggregate.Service) *ListHandler {
	return &ListHandler{store: store, stats: stats}
}

func (h *ListHandler) Register(app fiber.Router) {
	lists := app.Group("/lists")
	lists.Get("/", h.GetLists)
	lists.Get("/:name", h.GetList)
	lists.Get("/:name/activity/:year/:month", h.GetMonthActivity)
	lists.Get("/:name/participants/top", h.GetTopParticipants)
}

// ListDTO is a list with its live overview counters.
type ListDTO struct {
	Name                    string `json:"name"`
	DisplayName             string `json:"display_name"`
	Description             string `json:"description"`
	SubjectPrefix           string `json:"subject_prefix"`
	ArchivePolicy           string `json:"archive_policy"`
	EmailsCount             int    `json:"emails_count"`
	RecentParticipantsCount int    `json:"recent_participants_count"`
	RecentThreadsCount      int    `json:"recent_threads_count"`
}

func (h *ListHandler) toDTO(c *fiber.Ctx, list *domain.List) (*ListDTO, error) {
	ctx := c.UserContext()
	size, err := h.store.GetListSize(ctx, list.Name)
	if err != nil {
		return nil, err
	}
	participants, err := h.stats.GetRecentParticipantsCount(ctx, list.Name)
	if err != nil {
		return nil, err
	}
	threads, err := h.stats.GetRecentThreadsCount(ctx, list.Name)
	if err != nil {
		return nil, err
	}
	return &ListDTO{
		Name:                    list.Name,
		DisplayName:             list.DisplayName,
		Description:             list.Description,
		SubjectPrefix:           list.SubjectPrefix,
		ArchivePolicy:           list.ArchivePolicy.String(),
		EmailsCount:             size,
		RecentParticipantsCount: participants,
		RecentThreadsCount:      threads,
	}, nil
}

func (h *ListHandler) GetLists(c *fiber.Ctx) error {
	lists, err := h.store.GetLists(c.UserContext())
	if err != nil {
		return response.FromError(c, err)
	}
	dtos := make([]*ListDTO, 0, len(lists))
	for _, list := range lists {
		dto, err := h.toDTO(c, list)
		if err != nil {
			return response.FromError(c, err)
		}
		dtos = append(dtos, dto)
	}
	return response.OK(c, dtos)
}

func (h *ListHandler) GetList(c *fiber.Ctx) error {
	list, err := h.store.GetList(c.UserContext(), listParam(c))
	if err != nil {
		return response.FromError(c, err)
	}
	if list == nil {
		return response.FromError(c, apperr.ErrListNotFound)
	}
	dto, err := h.toDTO(c, list)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, dto)
}

func (h *ListHandler) GetMonthActivity(c *fiber.Ctx) error {
	year, err := c.ParamsInt("year")
	if err != nil {
		return response.BadRequest(c, "invalid year")
	}
	month, err := c.ParamsInt("month")
	if err != nil || month < 1 || month > 12 {
		return response.BadRequest(c, "invalid month")
	}
	activity, err := h.stats.GetMonthActivity(c.UserContext(), listParam(c), year, month)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, activity)
}

func (h *ListHandler) GetTopParticipants(c *fiber.Ctx) error {
	start, end, err := dateRange(c)
	if err != nil {
		return response.BadRequest(c, "invalid date range")
	}
	limit := c.QueryInt("limit", 10)
	top, err := h.store.GetTopParticipants(c.UserContext(), listParam(c), start, end, limit)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, top)
}
