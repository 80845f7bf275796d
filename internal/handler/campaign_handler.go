package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
	"github.com/kursadbilgin/outreach-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type CampaignService interface {
	CreateCampaign(ctx context.Context, name string, steps []service.StepInput) (*domain.Campaign, error)
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, params repository.ListParams) ([]domain.Campaign, int64, error)
	AddRecipients(ctx context.Context, campaignID string, recipients []service.NewRecipient) (int, error)
	InitializeDeliveries(ctx context.Context, campaignID string) (int, error)
	ProcessPendingDeliveries(ctx context.Context, campaignID *string) (int, error)
	HandleResponse(ctx context.Context, in service.ResponseInput) (domain.Classification, error)
	GetCampaignStats(ctx context.Context, campaignID string) (*service.CampaignStats, error)
	ListRecipientDeliveries(ctx context.Context, recipientID string) ([]domain.Delivery, error)
}

type CampaignHandler struct {
	service CampaignService
}

func NewCampaignHandler(service CampaignService) (*CampaignHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("campaign service is required")
	}
	return &CampaignHandler{service: service}, nil
}

func RegisterCampaignRoutes(router fiber.Router, service CampaignService) error {
	h, err := NewCampaignHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/campaigns", h.CreateCampaign)
	v1.Get("/campaigns", h.ListCampaigns)
	v1.Get("/campaigns/:id", h.GetCampaign)
	v1.Post("/campaigns/:id/recipients", h.AddRecipients)
	v1.Post("/campaigns/:id/deliveries/initialize", h.InitializeDeliveries)
	v1.Get("/campaigns/:id/stats", h.GetCampaignStats)
	v1.Post("/deliveries/process", h.ProcessPendingDeliveries)
	v1.Get("/recipients/:id/deliveries", h.ListRecipientDeliveries)
	v1.Post("/responses", h.HandleResponse)

	return nil
}

type stepRequest struct {
	Position     int     `json:"position"`
	DelayMinutes int     `json:"delayMinutes"`
	Subject      string  `json:"subject"`
	BodyText     *string `json:"bodyText,omitempty"`
	BodyHTML     *string `json:"bodyHtml,omitempty"`
}

type createCampaignRequest struct {
	Name  string        `json:"name"`
	Steps []stepRequest `json:"steps"`
}

type recipientRequest struct {
	Email string         `json:"email"`
	Name  *string        `json:"name,omitempty"`
	Vars  map[string]any `json:"vars,omitempty"`
}

type addRecipientsRequest struct {
	Recipients []recipientRequest `json:"recipients"`
}

type responseRequest struct {
	RecipientEmail string  `json:"recipientEmail"`
	Content        string  `json:"content"`
	DeliveryID     *string `json:"deliveryId,omitempty"`
}

type stepResponse struct {
	ID           string  `json:"id"`
	Position     int     `json:"position"`
	DelayMinutes int     `json:"delayMinutes"`
	Subject      string  `json:"subject"`
	BodyText     *string `json:"bodyText,omitempty"`
	BodyHTML     *string `json:"bodyHtml,omitempty"`
}

type campaignResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Steps     []stepResponse `json:"steps"`
	CreatedAt time.Time      `json:"createdAt"`
}

type listCampaignsResponse struct {
	Data []campaignResponse `json:"data"`
	Meta listMeta           `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type deliveryResponse struct {
	ID          string     `json:"id"`
	StepID      string     `json:"stepId"`
	RecipientID string     `json:"recipientId"`
	Status      string     `json:"status"`
	LastError   *string    `json:"lastError,omitempty"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	MessageID   *string    `json:"messageId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type deliveryStatsResponse struct {
	Sent    int64 `json:"sent"`
	Pending int64 `json:"pending"`
	Failed  int64 `json:"failed"`
	Total   int64 `json:"total"`
}

type responseStatsResponse struct {
	Positive     int64 `json:"positive"`
	Negative     int64 `json:"negative"`
	Unsubscribed int64 `json:"unsubscribed"`
	Total        int64 `json:"total"`
}

type campaignStatsResponse struct {
	CampaignID       string                `json:"campaignId"`
	CampaignName     string                `json:"campaignName"`
	TotalRecipients  int64                 `json:"totalRecipients"`
	Suppressed       int64                 `json:"suppressed"`
	ActiveRecipients int64                 `json:"activeRecipients"`
	Deliveries       deliveryStatsResponse `json:"deliveries"`
	Responses        responseStatsResponse `json:"responses"`
}

func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	var req createCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Steps) == 0 {
		return toHTTPError(fmt.Errorf("%w: at least one step is required", domain.ErrValidation))
	}

	steps := make([]service.StepInput, 0, len(req.Steps))
	for _, s := range req.Steps {
		steps = append(steps, service.StepInput{
			Position:     s.Position,
			DelayMinutes: s.DelayMinutes,
			Subject:      s.Subject,
			BodyText:     s.BodyText,
			BodyHTML:     s.BodyHTML,
		})
	}

	campaign, err := h.service.CreateCampaign(c.UserContext(), req.Name, steps)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	campaign, err := h.service.GetCampaign(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) ListCampaigns(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	campaigns, total, err := h.service.ListCampaigns(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]campaignResponse, 0, len(campaigns))
	for i := range campaigns {
		data = append(data, toCampaignResponse(&campaigns[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listCampaignsResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *CampaignHandler) AddRecipients(c *fiber.Ctx) error {
	var req addRecipientsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Recipients) == 0 {
		return toHTTPError(fmt.Errorf("%w: recipients is required", domain.ErrValidation))
	}

	recipients := make([]service.NewRecipient, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		recipients = append(recipients, service.NewRecipient{Email: r.Email, Name: r.Name, Vars: r.Vars})
	}

	campaignID := strings.TrimSpace(c.Params("id"))
	inserted, err := h.service.AddRecipients(c.UserContext(), campaignID, recipients)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"campaignId": campaignID,
		"inserted":   inserted,
		"skipped":    len(recipients) - inserted,
	})
}

func (h *CampaignHandler) InitializeDeliveries(c *fiber.Ctx) error {
	campaignID := strings.TrimSpace(c.Params("id"))
	created, err := h.service.InitializeDeliveries(c.UserContext(), campaignID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"campaignId": campaignID,
		"created":    created,
	})
}

func (h *CampaignHandler) ProcessPendingDeliveries(c *fiber.Ctx) error {
	var campaignID *string
	if raw := strings.TrimSpace(c.Query("campaignId")); raw != "" {
		campaignID = &raw
	}

	sent, err := h.service.ProcessPendingDeliveries(c.UserContext(), campaignID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"sent": sent})
}

func (h *CampaignHandler) HandleResponse(c *fiber.Ctx) error {
	var req responseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	classification, err := h.service.HandleResponse(c.UserContext(), service.ResponseInput{
		Email:      req.RecipientEmail,
		Content:    req.Content,
		DeliveryID: req.DeliveryID,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"classification": classification.String()})
}

func (h *CampaignHandler) GetCampaignStats(c *fiber.Ctx) error {
	campaignID := strings.TrimSpace(c.Params("id"))
	stats, err := h.service.GetCampaignStats(c.UserContext(), campaignID)
	if err != nil {
		return toHTTPError(err)
	}
	if stats == nil {
		return fiber.NewError(fiber.StatusNotFound, "campaign not found")
	}

	return c.Status(fiber.StatusOK).JSON(campaignStatsResponse{
		CampaignID:       stats.CampaignID,
		CampaignName:     stats.CampaignName,
		TotalRecipients:  stats.TotalRecipients,
		Suppressed:       stats.Suppressed,
		ActiveRecipients: stats.ActiveRecipients,
		Deliveries: deliveryStatsResponse{
			Sent:    stats.Deliveries.Sent,
			Pending: stats.Deliveries.Pending,
			Failed:  stats.Deliveries.Failed,
			Total:   stats.Deliveries.Total,
		},
		Responses: responseStatsResponse{
			Positive:     stats.Responses.Positive,
			Negative:     stats.Responses.Negative,
			Unsubscribed: stats.Responses.Unsubscribed,
			Total:        stats.Responses.Total,
		},
	})
}

func (h *CampaignHandler) ListRecipientDeliveries(c *fiber.Ctx) error {
	deliveries, err := h.service.ListRecipientDeliveries(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]deliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		data = append(data, deliveryResponse{
			ID:          d.ID,
			StepID:      d.StepID,
			RecipientID: d.RecipientID,
			Status:      d.Status.String(),
			LastError:   d.LastError,
			SentAt:      d.SentAt,
			MessageID:   d.MessageID,
			CreatedAt:   d.CreatedAt,
			UpdatedAt:   d.UpdatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	return params, nil
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	if c == nil {
		return campaignResponse{}
	}

	steps := make([]stepResponse, 0, len(c.Steps))
	for _, s := range c.Steps {
		steps = append(steps, stepResponse{
			ID:           s.ID,
			Position:     s.Position,
			DelayMinutes: s.DelayMinutes,
			Subject:      s.Subject,
			BodyText:     s.BodyText,
			BodyHTML:     s.BodyHTML,
		})
	}

	return campaignResponse{
		ID:        c.ID,
		Name:      c.Name,
		Steps:     steps,
		CreatedAt: c.CreatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicateEntity):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
