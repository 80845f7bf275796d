package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/observability"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
	"github.com/kursadbilgin/outreach-engine/internal/service"
	"github.com/kursadbilgin/outreach-engine/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestCampaignIntegration_CreateCampaign(t *testing.T) {
	t.Parallel()

	svc := &stubCampaignService{
		createCampaignFn: func(ctx context.Context, name string, steps []service.StepInput) (*domain.Campaign, error) {
			if name == "" {
				return nil, fmt.Errorf("%w: campaign name is required", domain.ErrValidation)
			}
			if len(steps) != 2 || steps[1].DelayMinutes != 1440 {
				t.Fatalf("steps = %+v, want two steps with follow-up delay 1440", steps)
			}
			return &domain.Campaign{
				ID:   "c-1",
				Name: name,
				Steps: []domain.Step{
					{ID: "s-0", Position: 0, Subject: steps[0].Subject},
					{ID: "s-1", Position: 1, DelayMinutes: 1440, Subject: steps[1].Subject},
				},
				CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			}, nil
		},
	}

	app := newCampaignTestApp(t, svc)

	body := `{"name":"Welcome","steps":[{"position":0,"delayMinutes":0,"subject":"Hi"},{"position":1,"delayMinutes":1440,"subject":"Follow-up","bodyText":"Hello {{ name }}"}]}`
	resp, raw := performRequest(t, app, http.MethodPost, "/v1/campaigns", body)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(raw))
	}

	var created map[string]any
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if created["id"] != "c-1" {
		t.Fatalf("id = %v, want c-1", created["id"])
	}
	steps, ok := created["steps"].([]any)
	if !ok || len(steps) != 2 {
		t.Fatalf("steps = %v, want 2 entries", created["steps"])
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/campaigns", `{"name":"","steps":[{"position":0,"subject":"Hi"},{"position":1,"delayMinutes":1440,"subject":"x"}]}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for blank name", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/campaigns", `{"name":"No steps","steps":[]}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing steps", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/campaigns", `{not json`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid body", resp.StatusCode)
	}
}

func TestCampaignIntegration_GetAndListCampaigns(t *testing.T) {
	t.Parallel()

	svc := &stubCampaignService{
		getCampaignFn: func(ctx context.Context, id string) (*domain.Campaign, error) {
			if id != "c-1" {
				return nil, domain.ErrNotFound
			}
			return &domain.Campaign{ID: "c-1", Name: "Welcome"}, nil
		},
		listCampaignsFn: func(ctx context.Context, params repository.ListParams) ([]domain.Campaign, int64, error) {
			if params.Page != 2 || params.PageSize != 10 {
				t.Fatalf("params = %+v, want page 2 size 10", params)
			}
			return []domain.Campaign{{ID: "c-1", Name: "Welcome"}}, 11, nil
		},
	}

	app := newCampaignTestApp(t, svc)

	resp, raw := performRequest(t, app, http.MethodGet, "/v1/campaigns/c-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/campaigns/missing", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	resp, raw = performRequest(t, app, http.MethodGet, "/v1/campaigns?page=2&pageSize=10", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}
	var listed listCampaignsResponse
	if err := json.Unmarshal(raw, &listed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if listed.Meta.Total != 11 || len(listed.Data) != 1 {
		t.Fatalf("list = %+v, want total 11 and one item", listed)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/campaigns?pageSize=500", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for oversized page", resp.StatusCode)
	}
}

func TestCampaignIntegration_AddRecipientsAndInitialize(t *testing.T) {
	t.Parallel()

	svc := &stubCampaignService{
		addRecipientsFn: func(ctx context.Context, campaignID string, recipients []service.NewRecipient) (int, error) {
			if campaignID == "missing" {
				return 0, domain.ErrNotFound
			}
			if len(recipients) != 2 {
				t.Fatalf("recipients = %d, want 2", len(recipients))
			}
			if recipients[0].Name == nil || *recipients[0].Name != "Ada" {
				t.Fatalf("first recipient name = %v, want Ada", recipients[0].Name)
			}
			if recipients[0].Vars["company"] != "Acme" {
				t.Fatalf("first recipient vars = %v, want company Acme", recipients[0].Vars)
			}
			return 1, nil
		},
		initializeDeliveriesFn: func(ctx context.Context, campaignID string) (int, error) {
			return 3, nil
		},
	}

	app := newCampaignTestApp(t, svc)

	body := `{"recipients":[{"email":"ada@example.com","name":"Ada","vars":{"company":"Acme"}},{"email":"ada@example.com"}]}`
	resp, raw := performRequest(t, app, http.MethodPost, "/v1/campaigns/c-1/recipients", body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}
	var added map[string]any
	if err := json.Unmarshal(raw, &added); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if added["inserted"] != float64(1) || added["skipped"] != float64(1) {
		t.Fatalf("response = %v, want inserted 1 skipped 1", added)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/campaigns/missing/recipients", body)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown campaign", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/campaigns/c-1/recipients", `{"recipients":[]}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty recipients", resp.StatusCode)
	}

	resp, raw = performRequest(t, app, http.MethodPost, "/v1/campaigns/c-1/deliveries/initialize", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}
	var initialized map[string]any
	if err := json.Unmarshal(raw, &initialized); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if initialized["created"] != float64(3) {
		t.Fatalf("created = %v, want 3", initialized["created"])
	}
}

func TestCampaignIntegration_ProcessPendingDeliveries(t *testing.T) {
	t.Parallel()

	var gotCampaign *string
	var gotTrace string
	svc := &stubCampaignService{
		processFn: func(ctx context.Context, campaignID *string) (int, error) {
			gotCampaign = campaignID
			gotTrace, _ = observability.TraceIDFromContext(ctx)
			return 4, nil
		},
	}

	app := newCampaignTestApp(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/deliveries/process?campaignId=c-9", nil)
	req.Header.Set(observability.TraceHeader, "trace-tick")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if gotCampaign == nil || *gotCampaign != "c-9" {
		t.Fatalf("campaignID = %v, want c-9", gotCampaign)
	}
	if gotTrace != "trace-tick" {
		t.Fatalf("trace id = %q, want trace-tick", gotTrace)
	}

	resp2, raw := performRequest(t, app, http.MethodPost, "/v1/deliveries/process", "")
	if resp2.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp2.StatusCode, string(raw))
	}
	if gotCampaign != nil {
		t.Fatalf("campaignID = %v, want nil for unscoped tick", *gotCampaign)
	}
}

func TestCampaignIntegration_HandleResponse(t *testing.T) {
	t.Parallel()

	svc := &stubCampaignService{
		handleResponseFn: func(ctx context.Context, in service.ResponseInput) (domain.Classification, error) {
			if in.Email == "" {
				return "", fmt.Errorf("%w: recipient email is required", domain.ErrValidation)
			}
			if in.DeliveryID == nil || *in.DeliveryID != "d-1" {
				t.Fatalf("DeliveryID = %v, want d-1", in.DeliveryID)
			}
			return domain.ClassificationUnsubscribed, nil
		},
	}

	app := newCampaignTestApp(t, svc)

	resp, raw := performRequest(t, app, http.MethodPost, "/v1/responses", `{"recipientEmail":"a@x.com","content":"unsubscribe please","deliveryId":"d-1"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["classification"] != "UNSUBSCRIBED" {
		t.Fatalf("classification = %v, want UNSUBSCRIBED", parsed["classification"])
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/responses", `{"recipientEmail":"","content":"hi"}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing email", resp.StatusCode)
	}
}

func TestCampaignIntegration_Stats(t *testing.T) {
	t.Parallel()

	svc := &stubCampaignService{
		statsFn: func(ctx context.Context, campaignID string) (*service.CampaignStats, error) {
			if campaignID != "c-1" {
				return nil, nil
			}
			return &service.CampaignStats{
				CampaignID:       "c-1",
				CampaignName:     "Welcome",
				TotalRecipients:  1,
				ActiveRecipients: 1,
				Deliveries:       service.DeliveryStats{Sent: 2, Total: 2},
			}, nil
		},
	}

	app := newCampaignTestApp(t, svc)

	resp, raw := performRequest(t, app, http.MethodGet, "/v1/campaigns/c-1/stats", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}
	var stats campaignStatsResponse
	if err := json.Unmarshal(raw, &stats); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if stats.Deliveries.Sent != 2 || stats.Deliveries.Pending != 0 || stats.TotalRecipients != 1 || stats.ActiveRecipients != 1 {
		t.Fatalf("stats = %+v, want sent 2 pending 0 total 1 active 1", stats)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/campaigns/unknown/stats", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown campaign", resp.StatusCode)
	}
}

func TestCampaignIntegration_ListRecipientDeliveries(t *testing.T) {
	t.Parallel()

	sentAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	reason := domain.ReasonUnsubscribed
	svc := &stubCampaignService{
		listDeliveriesFn: func(ctx context.Context, recipientID string) ([]domain.Delivery, error) {
			if recipientID != "r-1" {
				return nil, domain.ErrNotFound
			}
			return []domain.Delivery{
				{ID: "d-1", StepID: "s-0", RecipientID: "r-1", Status: domain.DeliveryStatusSent, SentAt: &sentAt},
				{ID: "d-2", StepID: "s-1", RecipientID: "r-1", Status: domain.DeliveryStatusFailed, LastError: &reason},
			}, nil
		},
	}

	app := newCampaignTestApp(t, svc)

	resp, raw := performRequest(t, app, http.MethodGet, "/v1/recipients/r-1/deliveries", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}
	var parsed struct {
		Data []deliveryResponse `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Data) != 2 || parsed.Data[1].Status != "FAILED" {
		t.Fatalf("deliveries = %+v, want two with second FAILED", parsed.Data)
	}
	if parsed.Data[1].LastError == nil || *parsed.Data[1].LastError != domain.ReasonUnsubscribed {
		t.Fatalf("lastError = %v, want %q", parsed.Data[1].LastError, domain.ReasonUnsubscribed)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/recipients/r-404/deliveries", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCampaignIntegration_ConflictMapsTo409(t *testing.T) {
	t.Parallel()

	svc := &stubCampaignService{
		initializeDeliveriesFn: func(ctx context.Context, campaignID string) (int, error) {
			return 0, fmt.Errorf("create delivery: %w", domain.ErrDuplicateEntity)
		},
	}

	app := newCampaignTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/campaigns/c-1/deliveries/initialize", "")
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app)

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, PostgresCheck(sqlDB), RedisCheck(rdb))

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		t.Cleanup(func() { _ = rdb.Close() })
		mr.Close()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, PostgresCheck(sqlDB), RedisCheck(rdb))

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}

		var parsed struct {
			Checks map[string]string `json:"checks"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			t.Fatalf("json unmarshal error = %v", err)
		}
		if parsed.Checks["postgres"] != "down" || parsed.Checks["redis"] != "down" {
			t.Fatalf("checks = %v, want both down", parsed.Checks)
		}
	})
}

type stubCampaignService struct {
	createCampaignFn       func(ctx context.Context, name string, steps []service.StepInput) (*domain.Campaign, error)
	getCampaignFn          func(ctx context.Context, id string) (*domain.Campaign, error)
	listCampaignsFn        func(ctx context.Context, params repository.ListParams) ([]domain.Campaign, int64, error)
	addRecipientsFn        func(ctx context.Context, campaignID string, recipients []service.NewRecipient) (int, error)
	initializeDeliveriesFn func(ctx context.Context, campaignID string) (int, error)
	processFn              func(ctx context.Context, campaignID *string) (int, error)
	handleResponseFn       func(ctx context.Context, in service.ResponseInput) (domain.Classification, error)
	statsFn                func(ctx context.Context, campaignID string) (*service.CampaignStats, error)
	listDeliveriesFn       func(ctx context.Context, recipientID string) ([]domain.Delivery, error)
}

func (s *stubCampaignService) CreateCampaign(ctx context.Context, name string, steps []service.StepInput) (*domain.Campaign, error) {
	if s.createCampaignFn != nil {
		return s.createCampaignFn(ctx, name, steps)
	}
	return nil, errors.New("not implemented")
}

func (s *stubCampaignService) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	if s.getCampaignFn != nil {
		return s.getCampaignFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubCampaignService) ListCampaigns(ctx context.Context, params repository.ListParams) ([]domain.Campaign, int64, error) {
	if s.listCampaignsFn != nil {
		return s.listCampaignsFn(ctx, params)
	}
	return nil, 0, nil
}

func (s *stubCampaignService) AddRecipients(ctx context.Context, campaignID string, recipients []service.NewRecipient) (int, error) {
	if s.addRecipientsFn != nil {
		return s.addRecipientsFn(ctx, campaignID, recipients)
	}
	return 0, nil
}

func (s *stubCampaignService) InitializeDeliveries(ctx context.Context, campaignID string) (int, error) {
	if s.initializeDeliveriesFn != nil {
		return s.initializeDeliveriesFn(ctx, campaignID)
	}
	return 0, nil
}

func (s *stubCampaignService) ProcessPendingDeliveries(ctx context.Context, campaignID *string) (int, error) {
	if s.processFn != nil {
		return s.processFn(ctx, campaignID)
	}
	return 0, nil
}

func (s *stubCampaignService) HandleResponse(ctx context.Context, in service.ResponseInput) (domain.Classification, error) {
	if s.handleResponseFn != nil {
		return s.handleResponseFn(ctx, in)
	}
	return domain.ClassificationPending, nil
}

func (s *stubCampaignService) GetCampaignStats(ctx context.Context, campaignID string) (*service.CampaignStats, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx, campaignID)
	}
	return nil, nil
}

func (s *stubCampaignService) ListRecipientDeliveries(ctx context.Context, recipientID string) ([]domain.Delivery, error) {
	if s.listDeliveriesFn != nil {
		return s.listDeliveriesFn(ctx, recipientID)
	}
	return nil, domain.ErrNotFound
}

func newCampaignTestApp(t *testing.T, svc CampaignService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	app.Use(observability.TraceMiddleware())

	if err := RegisterCampaignRoutes(app, svc); err != nil {
		t.Fatalf("RegisterCampaignRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }
