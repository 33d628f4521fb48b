package tracker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobwatch/pkg/jobs"
)

func newTestRouter(t *testing.T, store Store, opts ...ServiceOption) http.Handler {
	t.Helper()
	svc, err := NewService(store, opts...)
	require.NoError(t, err)
	api, err := New(svc, Deps{}, Config{}, zerolog.Nop())
	require.NoError(t, err)
	routes, err := api.Routes()
	require.NoError(t, err)
	return routes
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeExecution(t *testing.T, rec *httptest.ResponseRecorder) jobs.Execution {
	t.Helper()
	var e jobs.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body["error"]
}

func TestNewRequiresService(t *testing.T) {
	_, err := New(nil, Deps{}, Config{}, zerolog.Nop())
	require.Error(t, err)
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	clock := &fakeClock{now: base}
	h := newTestRouter(t, newTestStore(t), WithClock(clock.Now))

	rec := do(t, h, http.MethodPost, "/api/jobs", `{"jobName":"ingest","runId":"run-1","status":"FAILED"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	created := decodeExecution(t, rec)
	assert.Equal(t, jobs.StatusRunning, created.Status)
	assert.Nil(t, created.EndTime)

	clock.Advance(time.Minute)
	rec = do(t, h, http.MethodPut, "/api/jobs/"+strconv.FormatInt(created.ID, 10), `{"status":"SUCCESS"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeExecution(t, rec)
	assert.Equal(t, jobs.StatusSuccess, updated.Status)
	require.NotNil(t, updated.EndTime)
	assert.True(t, updated.EndTime.Equal(base.Add(time.Minute)))

	rec = do(t, h, http.MethodGet, "/api/jobs/"+strconv.FormatInt(created.ID, 10), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jobs.StatusSuccess, decodeExecution(t, rec).Status)

	rec = do(t, h, http.MethodPut, "/api/jobs/"+strconv.FormatInt(created.ID, 10), `{"status":"RUNNING"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateByKeyOverHTTP(t *testing.T) {
	h := newTestRouter(t, newTestStore(t))

	rec := do(t, h, http.MethodPost, "/api/jobs", `{"jobName":"Nightly Load","runId":"run-42"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/jobs",
		`{"jobName":"Nightly Load","runId":"run-42","status":"FAILED","errorMessage":"stage 3 lost","endTime":"2099-01-01T00:00:00"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeExecution(t, rec)
	assert.Equal(t, jobs.StatusFailed, updated.Status)
	assert.Equal(t, "stage 3 lost", updated.ErrorMessage)
	require.NotNil(t, updated.EndTime)
	assert.True(t, updated.EndTime.Equal(time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)))

	rec = do(t, h, http.MethodPut, "/api/jobs", `{"jobName":"Nightly Load","runId":"run-43","status":"SUCCESS"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "not found")
}

func TestStartValidationOverHTTP(t *testing.T) {
	h := newTestRouter(t, newTestStore(t))

	tests := []struct {
		body string
		want string
	}{
		{body: `{"runId":"run-1"}`, want: "jobName is mandatory"},
		{body: `{"jobName":"ingest"}`, want: "runId is mandatory"},
		{body: `{}`, want: "both jobName and runId are mandatory"},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodPost, "/api/jobs", tt.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, tt.want, errorMessage(t, rec))
	}

	rec := do(t, h, http.MethodPost, "/api/jobs", `{"jobName":"ingest","runId":"r","owner":"me"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/jobs", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAndUpdateMissing(t *testing.T) {
	h := newTestRouter(t, newTestStore(t))

	rec := do(t, h, http.MethodGet, "/api/jobs/404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "job execution with id 404 not found", errorMessage(t, rec))

	rec = do(t, h, http.MethodPut, "/api/jobs/404", `{"status":"SUCCESS"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/jobs/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateRejectsBadInput(t *testing.T) {
	h := newTestRouter(t, newTestStore(t))
	rec := do(t, h, http.MethodPost, "/api/jobs", `{"jobName":"ingest","runId":"run-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	path := "/api/jobs/" + strconv.FormatInt(decodeExecution(t, rec).ID, 10)

	rec = do(t, h, http.MethodPut, path, `{"status":"PAUSED"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, path, `{"endTime":"yesterday"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, path, `{"endTime":"2000-01-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOverHTTP(t *testing.T) {
	clock := &fakeClock{now: base}
	h := newTestRouter(t, newTestStore(t), WithClock(clock.Now))

	for _, body := range []string{
		`{"jobName":"ETL-Daily","runId":"r1"}`,
		`{"jobName":"ingest","runId":"r2"}`,
		`{"jobName":"nightly etl","runId":"r3"}`,
	} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/jobs", body).Code)
		clock.Advance(time.Hour)
	}

	list := func(query string) []jobs.Execution {
		rec := do(t, h, http.MethodGet, "/api/jobs"+query, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out []jobs.Execution
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}
	names := func(es []jobs.Execution) []string {
		out := make([]string, 0, len(es))
		for _, e := range es {
			out = append(out, e.JobName)
		}
		return out
	}

	assert.Equal(t, []string{"nightly etl", "ingest", "ETL-Daily"}, names(list("")))
	assert.Equal(t, []string{"nightly etl", "ETL-Daily"}, names(list("?jobName=etl")))
	assert.Equal(t, []string{"ingest"}, names(list("?runId=r2")))
	assert.Equal(t, []string{"ingest"}, names(list("?startTimeFrom=2026-10-16T09:30:00Z&startTimeTo=2026-10-16T10:30:00")))
	assert.Equal(t, []string{"nightly etl", "ingest", "ETL-Daily"}, names(list("?startTimeFrom=2026-10-16&startTimeTo=2026-10-16")))
	assert.Equal(t, []string{"nightly etl", "ingest", "ETL-Daily"}, names(list("?status=running")))
	assert.Empty(t, list("?status=FAILED"))

	rec := do(t, h, http.MethodGet, "/api/jobs?status=DONE", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/jobs?endTimeTo=soon", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "endTimeTo")
}

func TestStatsOverHTTP(t *testing.T) {
	h := newTestRouter(t, newTestStore(t))
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/jobs", `{"jobName":"a","runId":"1"}`).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/jobs", `{"jobName":"b","runId":"2"}`).Code)

	rec := do(t, h, http.MethodGet, "/api/jobs/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var counts map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	assert.Equal(t, map[string]int64{"RUNNING": 2, "SUCCESS": 0, "FAILED": 0, "total": 2}, counts)
}

func TestStorageFailureOverHTTP(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO "job_executions"`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	h := newTestRouter(t, store)
	rec := do(t, h, http.MethodPost, "/api/jobs", `{"jobName":"ingest","runId":"run-1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	msg := errorMessage(t, rec)
	assert.Contains(t, msg, "possible duplicate or database error")
	assert.Contains(t, msg, "duplicate key value violates unique constraint")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestRouter(t, newTestStore(t))

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStartIgnoresRecordFields(t *testing.T) {
	clock := &fakeClock{now: base}
	h := newTestRouter(t, newTestStore(t), WithClock(clock.Now))

	rec := do(t, h, http.MethodPost, "/api/jobs", `{
		"id": 99,
		"jobName": "ingest",
		"runId": "run-1",
		"status": "SUCCESS",
		"startTime": "2020-01-01T00:00:00Z",
		"endTime": "2020-01-01T01:00:00Z",
		"createdAt": "2020-01-01T00:00:00Z",
		"updatedAt": "2020-01-01T00:00:00Z"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decodeExecution(t, rec)
	assert.NotEqual(t, int64(99), created.ID)
	assert.Equal(t, jobs.StatusRunning, created.Status)
	assert.True(t, created.StartTime.Equal(base))
	assert.Nil(t, created.EndTime)

	rec = do(t, h, http.MethodPut, "/api/jobs/"+strconv.FormatInt(created.ID, 10), `{"status":"SUCCESS","startTime":"2020-01-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitSparesIngestion(t *testing.T) {
	svc, err := NewService(newTestStore(t))
	require.NoError(t, err)
	api, err := New(svc, Deps{}, Config{RateLimit: 2}, zerolog.Nop())
	require.NoError(t, err)
	h, err := api.Routes()
	require.NoError(t, err)

	var last jobs.Execution
	for i := 0; i < 5; i++ {
		rec := do(t, h, http.MethodPost, "/api/jobs", `{"jobName":"burst","runId":"r-`+strconv.Itoa(i)+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		last = decodeExecution(t, rec)
	}
	for i := 0; i < 3; i++ {
		rec := do(t, h, http.MethodPut, "/api/jobs/"+strconv.FormatInt(last.ID, 10), `{"status":"SUCCESS"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/jobs", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/jobs/stats", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodGet, "/api/jobs", "").Code)
}
