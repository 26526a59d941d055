package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/api/dto"
	"github.com/cuongbtq/booking-dispatch/internal/api/handler"
	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/internal/booking/lifecycle"
	"github.com/cuongbtq/booking-dispatch/internal/booking/service"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage/memory"
	"github.com/cuongbtq/booking-dispatch/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const (
	adminID      = 1
	customerID   = 100
	translatorA  = 10
	translatorB  = 11
	unknownActor = 999
)

type testAPI struct {
	t      *testing.T
	engine *gin.Engine
	events []domain.Event
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := memory.NewDirectory()
	dir.AddLanguage(5, "Arabic")
	dir.AddUser(domain.User{ID: adminID, Role: domain.RoleAdmin, Active: true})
	dir.AddUser(domain.User{ID: customerID, Role: domain.RoleCustomer, Active: true, ConsumerType: "paid", Town: "Uppsala", Email: "c@example.com"})
	dir.AddUser(domain.User{ID: translatorA, Role: domain.RoleTranslator, Active: true})
	dir.AddUser(domain.User{ID: translatorB, Role: domain.RoleTranslator, Active: true})

	api := &testAPI{t: t}
	clock := func() time.Time { return now }
	log := logger.NewNop().Logger
	machine := lifecycle.NewMachine(dir, lifecycle.Config{}, clock, log)
	pub := service.PublisherFunc(func(_ context.Context, events []domain.Event) error {
		api.events = append(api.events, events...)
		return nil
	})
	svc := service.New(memory.NewStore(), dir, machine, pub, log, service.WithClock(clock))

	api.engine = SetupRouter(&handler.Dependencies{Logger: log, Service: svc}, Options{
		AllowOrigins: []string{"https://admin.example.com"},
	})
	return api
}

func (a *testAPI) do(method, path string, actor int64, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != 0 {
		req.Header.Set(ActorHeader, strconv.FormatInt(actor, 10))
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

type jobEnvelope struct {
	Job dto.JobDTO `json:"job"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (a *testAPI) createJob(due time.Time) dto.JobDTO {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/v1/jobs", customerID, map[string]any{
		"from_language_id":    5,
		"due":                 due,
		"duration":            60,
		"customer_phone_type": "yes",
	})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[jobEnvelope](a.t, w).Job
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(http.MethodGet, "/health", 0, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestHealth_FailingCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logger.NewNop().Logger
	engine := SetupRouter(&handler.Dependencies{Logger: log}, Options{
		ServiceName: "booking-api-service",
		HealthChecks: map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
			"rabbitmq": func(context.Context) error { return fmt.Errorf("not connected") },
		},
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, map[string]string{"rabbitmq": "not connected"}, body.Checks)
}

func TestCreateAndGetJob(t *testing.T) {
	api := newTestAPI(t)
	job := api.createJob(now.Add(48 * time.Hour))

	assert.Equal(t, string(domain.StatusPending), job.Status)
	assert.Equal(t, "Uppsala", job.Town)
	require.Len(t, api.events, 1)
	assert.Equal(t, domain.EventJobCreated, api.events[0].Kind)

	w := api.do(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%d", job.ID), 0, nil)
	require.Equal(t, http.StatusOK, w.Code)
	details := decode[dto.JobDetailsResponse](t, w)
	assert.Equal(t, job.ID, details.Job.ID)
	assert.Nil(t, details.Translator)
	assert.Empty(t, details.Assignments)
}

func TestCreateJob_Rejections(t *testing.T) {
	api := newTestAPI(t)
	due := now.Add(48 * time.Hour)

	tests := []struct {
		name   string
		actor  int64
		body   any
		status int
	}{
		{name: "missing actor", body: map[string]any{"from_language_id": 5}, status: http.StatusBadRequest},
		{name: "unknown actor", actor: unknownActor, body: map[string]any{"from_language_id": 5, "due": due, "duration": 60, "customer_phone_type": "yes"}, status: http.StatusBadRequest},
		{name: "translator cannot book", actor: translatorA, body: map[string]any{"from_language_id": 5, "due": due, "duration": 60, "customer_phone_type": "yes"}, status: http.StatusBadRequest},
		{name: "missing language", actor: customerID, body: map[string]any{"due": due, "duration": 60}, status: http.StatusBadRequest},
		{name: "bad contact flag", actor: customerID, body: map[string]any{"from_language_id": 5, "customer_phone_type": "maybe"}, status: http.StatusBadRequest},
		{name: "due in the past", actor: customerID, body: map[string]any{"from_language_id": 5, "due": now.Add(-time.Hour), "duration": 60, "customer_phone_type": "yes"}, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(http.MethodPost, "/api/v1/jobs", tt.actor, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, api.events)
}

func TestAcceptJob(t *testing.T) {
	api := newTestAPI(t)
	job := api.createJob(now.Add(48 * time.Hour))
	path := fmt.Sprintf("/api/v1/jobs/%d/accept", job.ID)

	w := api.do(http.MethodPost, path, translatorA, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, string(domain.StatusAssigned), decode[jobEnvelope](t, w).Job.Status)

	w = api.do(http.MethodPost, path, translatorB, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decode[dto.ErrorResponse](t, w).Error, "illegal status transition")

	w = api.do(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%d", job.ID), 0, nil)
	details := decode[dto.JobDetailsResponse](t, w)
	require.NotNil(t, details.Translator)
	assert.Equal(t, int64(translatorA), details.Translator.TranslatorID)
}

func TestJobRoutes_ErrorMapping(t *testing.T) {
	api := newTestAPI(t)
	job := api.createJob(now.Add(48 * time.Hour))

	tests := []struct {
		name   string
		method string
		path   string
		actor  int64
		body   any
		status int
	}{
		{name: "non-numeric id", method: http.MethodGet, path: "/api/v1/jobs/abc", status: http.StatusBadRequest},
		{name: "unknown job", method: http.MethodGet, path: "/api/v1/jobs/4242", status: http.StatusNotFound},
		{name: "accept unknown job", method: http.MethodPost, path: "/api/v1/jobs/4242/accept", actor: translatorA, status: http.StatusNotFound},
		{name: "end session not started", method: http.MethodPost, path: fmt.Sprintf("/api/v1/jobs/%d/end", job.ID), actor: customerID, status: http.StatusOK},
		{name: "no-show without translator", method: http.MethodPost, path: fmt.Sprintf("/api/v1/jobs/%d/customer-not-call", job.ID), actor: translatorA, status: http.StatusConflict},
		{name: "update requires admin", method: http.MethodPut, path: fmt.Sprintf("/api/v1/admin/jobs/%d", job.ID), actor: customerID, body: map[string]any{"reference": "x"}, status: http.StatusBadRequest},
		{name: "update unknown status", method: http.MethodPut, path: fmt.Sprintf("/api/v1/admin/jobs/%d", job.ID), actor: adminID, body: map[string]any{"status": "archived"}, status: http.StatusConflict},
		{name: "update bad session time", method: http.MethodPut, path: fmt.Sprintf("/api/v1/admin/jobs/%d", job.ID), actor: adminID, body: map[string]any{"session_time": "soon"}, status: http.StatusBadRequest},
		{name: "admin route without actor", method: http.MethodPost, path: fmt.Sprintf("/api/v1/admin/jobs/%d/reopen", job.ID), status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(tt.method, tt.path, tt.actor, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	job := api.createJob(now.Add(48 * time.Hour))
	base := fmt.Sprintf("/api/v1/admin/jobs/%d", job.ID)

	w := api.do(http.MethodPost, base+"/ignore-expiring", adminID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[jobEnvelope](t, w).Job.Ignore)

	w = api.do(http.MethodPost, base+"/ignore-expired", adminID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[jobEnvelope](t, w).Job.IgnoreExpired)

	w = api.do(http.MethodPost, base+"/sms-broadcast", adminID, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, domain.EventSMSBroadcast, api.events[len(api.events)-1].Kind)

	comment := "moved by phone"
	w = api.do(http.MethodPut, base, adminID, map[string]any{
		"translator_id":  translatorA,
		"status":         "assigned",
		"admin_comments": comment,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[jobEnvelope](t, w).Job
	assert.Equal(t, string(domain.StatusAssigned), updated.Status)
	assert.Equal(t, comment, updated.AdminComments)

	w = api.do(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%d", job.ID), 0, nil)
	details := decode[dto.JobDetailsResponse](t, w)
	assert.NotEmpty(t, details.Changes)
	require.NotNil(t, details.Translator)
	assert.Equal(t, int64(translatorA), details.Translator.TranslatorID)
}

func TestListJobs_Pagination(t *testing.T) {
	api := newTestAPI(t)
	for i := 1; i <= 5; i++ {
		api.createJob(now.Add(time.Duration(24+i) * time.Hour))
	}

	var ids []int64
	cursor := ""
	for range 5 {
		path := "/api/v1/jobs?page_size=2&customer_id=100"
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		w := api.do(http.MethodGet, path, 0, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		page := decode[dto.ListJobsResponse](t, w)
		for _, j := range page.Jobs {
			ids = append(ids, j.ID)
		}
		cursor = page.NextCursor
		if cursor == "" {
			break
		}
	}
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, ids)
}

func TestListJobs_InvalidQuery(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name string
		path string
	}{
		{name: "bad cursor", path: "/api/v1/jobs?cursor=%21%21"},
		{name: "unknown status", path: "/api/v1/jobs?status=archived"},
		{name: "non-numeric page size", path: "/api/v1/jobs?page_size=lots"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(http.MethodGet, tt.path, 0, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestCORS(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", ActorHeader)
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://admin.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
