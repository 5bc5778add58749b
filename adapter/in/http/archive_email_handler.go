package http

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"archive_server/core/domain"
	"archive_server/core/port/out"
	"archive_server/core/service/aggregate"
	"archive_server/pkg/apperr"
	"archive_server/pkg/response"
)

// EmailHandler serves archived emails, their attachments and votes.
type EmailHandler struct {
	store out.Store
	stats *aggregate.Service
}

func NewEmailHandler(store out.Store, stats *aggregate.Service) *EmailHandler {
	return &EmailHandler{store: store, stats: stats}
}

func (h *EmailHandler) Register(app fiber.Router) {
	emails := app.Group("/lists/:name/emails")
	emails.Get("/", h.GetEmails)
	emails.Get("/:hash", h.GetEmail)
	emails.Get("/:hash/attachments", h.GetAttachments)
	emails.Get("/:hash/attachments/:counter", h.DownloadAttachment)
	emails.Post("/:hash/vote", h.Vote)
}

// EmailDTO is one archived email as served by the API.
type EmailDTO struct {
	ListName      string    `json:"list_name"`
	MessageID     string    `json:"message_id"`
	MessageIDHash string    `json:"message_id_hash"`
	ThreadID      string    `json:"thread_id"`
	SenderName    string    `json:"sender_name"`
	SenderAddress string    `json:"sender_address"`
	UserID        string    `json:"user_id,omitempty"`
	Subject       string    `json:"subject"`
	Content       string    `json:"content"`
	Date          time.Time `json:"date"`
	Timezone      int       `json:"timezone"`
	InReplyTo     string    `json:"in_reply_to,omitempty"`
	ThreadOrder   int       `json:"thread_order"`
	ThreadDepth   int       `json:"thread_depth"`
	Likes         int       `json:"likes"`
	Dislikes      int       `json:"dislikes"`
	LikeStatus    string    `json:"like_status"`
}

func (h *EmailHandler) toDTO(c *fiber.Ctx, email *domain.Email) (*EmailDTO, error) {
	tally, err := h.stats.GetMessageVotes(c.UserContext(), email.ListName, email.MessageID)
	if err != nil {
		return nil, err
	}
	return &EmailDTO{
		ListName:      email.ListName,
		MessageID:     email.MessageID,
		MessageIDHash: email.MessageIDHash,
		ThreadID:      email.ThreadID,
		SenderName:    email.SenderName,
		SenderAddress: email.SenderAddress,
		UserID:        email.UserID,
		Subject:       email.Subject,
		Content:       email.Content,
		Date:          email.Date,
		Timezone:      email.Timezone,
		InReplyTo:     email.InReplyTo,
		ThreadOrder:   email.ThreadOrder,
		ThreadDepth:   email.ThreadDepth,
		Likes:         tally.Likes,
		Dislikes:      tally.Dislikes,
		LikeStatus:    domain.LikeStatus(tally.Likes, tally.Dislikes),
	}, nil
}

func (h *EmailHandler) toDTOs(c *fiber.Ctx, emails []*domain.Email) ([]*EmailDTO, error) {
	dtos := make([]*EmailDTO, 0, len(emails))
	for _, email := range emails {
		dto, err := h.toDTO(c, email)
		if err != nil {
			return nil, err
		}
		dtos = append(dtos, dto)
	}
	return dtos, nil
}

func (h *EmailHandler) GetEmails(c *fiber.Ctx) error {
	start, end, err := dateRange(c)
	if err != nil {
		return response.BadRequest(c, "invalid date range")
	}
	emails, err := h.store.GetMessages(c.UserContext(), listParam(c), start, end)
	if err != nil {
		return response.FromError(c, err)
	}
	dtos, err := h.toDTOs(c, emails)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, dtos)
}

func (h *EmailHandler) lookup(c *fiber.Ctx) (*domain.Email, error) {
	email, err := h.store.GetMessageByHash(c.UserContext(), listParam(c), c.Params("hash"))
	if err != nil {
		return nil, err
	}
	if email == nil {
		return nil, apperr.ErrMessageNotFound
	}
	return email, nil
}

func (h *EmailHandler) GetEmail(c *fiber.Ctx) error {
	email, err := h.lookup(c)
	if err != nil {
		return response.FromError(c, err)
	}
	dto, err := h.toDTO(c, email)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, dto)
}

// AttachmentDTO describes one attachment without its content; the content
// is fetched through the download endpoint.
type AttachmentDTO struct {
	Counter     int    `json:"counter"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

func (h *EmailHandler) GetAttachments(c *fiber.Ctx) error {
	email, err := h.lookup(c)
	if err != nil {
		return response.FromError(c, err)
	}
	attachments, err := h.store.GetAttachments(c.UserContext(), email.ListName, email.MessageID)
	if err != nil {
		return response.FromError(c, err)
	}
	dtos := make([]AttachmentDTO, 0, len(attachments))
	for _, att := range attachments {
		dtos = append(dtos, AttachmentDTO{
			Counter:     att.Counter,
			Name:        att.Name,
			ContentType: att.ContentType,
			Size:        att.Size,
		})
	}
	return response.OK(c, dtos)
}

func (h *EmailHandler) DownloadAttachment(c *fiber.Ctx) error {
	counter, err := c.ParamsInt("counter")
	if err != nil {
		return response.BadRequest(c, "invalid attachment counter")
	}
	email, err := h.lookup(c)
	if err != nil {
		return response.FromError(c, err)
	}
	att, err := h.store.GetAttachmentByCounter(c.UserContext(), email.ListName, email.MessageID, counter)
	if err != nil {
		return response.FromError(c, err)
	}
	if att == nil {
		return response.NotFound(c, "attachment not found")
	}
	c.Set(fiber.HeaderContentType, att.ContentType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+att.Name+`"`)
	c.Set(fiber.HeaderContentLength, strconv.Itoa(len(att.Content)))
	return c.Send(att.Content)
}

// VoteRequest is the body of the vote endpoint.
type VoteRequest struct {
	UserID string `json:"user_id"`
	Value  int    `json:"value"`
}

func (h *EmailHandler) Vote(c *fiber.Ctx) error {
	var req VoteRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid vote body")
	}
	if req.UserID == "" {
		return response.BadRequest(c, "user_id is required")
	}
	email, err := h.lookup(c)
	if err != nil {
		return response.FromError(c, err)
	}
	if err := h.stats.Vote(c.UserContext(), email.ListName, email.MessageID, req.UserID, req.Value); err != nil {
		return response.FromError(c, err)
	}
	tally, err := h.stats.GetMessageVotes(c.UserContext(), email.ListName, email.MessageID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, tally)
}
