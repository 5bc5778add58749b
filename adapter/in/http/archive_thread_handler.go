package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"archive_server/core/domain"
	"archive_server/core/port/out"
	"archive_server/core/service/aggregate"
	"archive_server/pkg/apperr"
	"archive_server/pkg/response"
)

// ThreadHandler serves conversation threads and their overview counters.
type ThreadHandler struct {
	store out.Store
	stats *aggregate.Service
	email *EmailHandler
}

func NewThreadHandler(store out.Store, stats *aggregate.Service, email *EmailHandler) *ThreadHandler {
	return &ThreadHandler{store: store, stats: stats, email: email}
}

func (h *ThreadHandler) Register(app fiber.Router) {
	threads := app.Group("/lists/:name/threads")
	threads.Get("/", h.GetThreads)
	threads.Get("/:threadID", h.GetThread)
	threads.Get("/:threadID/neighbors", h.GetNeighbors)
	threads.Get("/:threadID/emails", h.GetThreadEmails)
}

// ThreadDTO is a thread with its cached overview counters.
type ThreadDTO struct {
	ListName          string    `json:"list_name"`
	ThreadID          string    `json:"thread_id"`
	Subject           string    `json:"subject"`
	Category          string    `json:"category,omitempty"`
	DateActive        time.Time `json:"date_active"`
	EmailsCount       int       `json:"emails_count"`
	ParticipantsCount int       `json:"participants_count"`
	Likes             int       `json:"likes"`
	Dislikes          int       `json:"dislikes"`
	LikeStatus        string    `json:"like_status"`
}

func (h *ThreadHandler) toDTO(c *fiber.Ctx, thread *domain.Thread) (*ThreadDTO, error) {
	ctx := c.UserContext()
	emails, err := h.stats.GetThreadEmailsCount(ctx, thread.ListName, thread.ThreadID)
	if err != nil {
		return nil, err
	}
	participants, err := h.stats.GetThreadParticipantsCount(ctx, thread.ListName, thread.ThreadID)
	if err != nil {
		return nil, err
	}
	subject, err := h.stats.GetThreadSubject(ctx, thread.ListName, thread.ThreadID)
	if err != nil {
		return nil, err
	}
	tally, err := h.stats.GetThreadVotes(ctx, thread.ListName, thread.ThreadID)
	if err != nil {
		return nil, err
	}
	return &ThreadDTO{
		ListName:          thread.ListName,
		ThreadID:          thread.ThreadID,
		Subject:           subject,
		Category:          thread.Category,
		DateActive:        thread.DateActive,
		EmailsCount:       emails,
		ParticipantsCount: participants,
		Likes:             tally.Likes,
		Dislikes:          tally.Dislikes,
		LikeStatus:        domain.LikeStatus(tally.Likes, tally.Dislikes),
	}, nil
}

func (h *ThreadHandler) GetThreads(c *fiber.Ctx) error {
	start, end, err := dateRange(c)
	if err != nil {
		return response.BadRequest(c, "invalid date range")
	}
	threads, err := h.store.GetThreads(c.UserContext(), listParam(c), start, end)
	if err != nil {
		return response.FromError(c, err)
	}
	dtos := make([]*ThreadDTO, 0, len(threads))
	for _, thread := range threads {
		dto, err := h.toDTO(c, thread)
		if err != nil {
			return response.FromError(c, err)
		}
		dtos = append(dtos, dto)
	}
	return response.OK(c, dtos)
}

func (h *ThreadHandler) lookup(c *fiber.Ctx) (*domain.Thread, error) {
	thread, err := h.store.GetThread(c.UserContext(), listParam(c), c.Params("threadID"))
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, apperr.ErrThreadNotFound
	}
	return thread, nil
}

func (h *ThreadHandler) GetThread(c *fiber.Ctx) error {
	thread, err := h.lookup(c)
	if err != nil {
		return response.FromError(c, err)
	}
	dto, err := h.toDTO(c, thread)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, dto)
}

// NeighborsDTO holds the chronologically adjacent threads of a list.
type NeighborsDTO struct {
	Prev *ThreadDTO `json:"prev"`
	Next *ThreadDTO `json:"next"`
}

func (h *ThreadHandler) GetNeighbors(c *fiber.Ctx) error {
	prev, next, err := h.store.GetThreadNeighbors(c.UserContext(), listParam(c), c.Params("threadID"))
	if err != nil {
		return response.FromError(c, err)
	}
	dto := &NeighborsDTO{}
	if prev != nil {
		if dto.Prev, err = h.toDTO(c, prev); err != nil {
			return response.FromError(c, err)
		}
	}
	if next != nil {
		if dto.Next, err = h.toDTO(c, next); err != nil {
			return response.FromError(c, err)
		}
	}
	return response.OK(c, dto)
}

// GetThreadEmails returns the thread's emails in reply-tree order.
func (h *ThreadHandler) GetThreadEmails(c *fiber.Ctx) error {
	thread, err := h.lookup(c)
	if err != nil {
		return response.FromError(c, err)
	}
	emails, err := h.store.GetThreadEmailsByOrder(c.UserContext(), thread.ListName, thread.ThreadID)
	if err != nil {
		return response.FromError(c, err)
	}
	dtos, err := h.email.toDTOs(c, emails)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, dtos)
}
