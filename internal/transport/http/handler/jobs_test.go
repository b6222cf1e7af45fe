package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/farmacy-notify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestStartJob_DefaultsToUpdates(t *testing.T) {
	svc := &mockJobSvc{}
	h := NewJobHandler(svc)
	svc.On("StartTestJob", mock.Anything, int64(7), domain.StartTestJobRequest{Kind: domain.JobTestUpdates, IntervalSeconds: 45}).
		Return(true, "test_updates_7", nil)

	rr := httptest.NewRecorder()
	h.Start(rr, asUser(httptest.NewRequest(http.MethodPost, "/?interval_seconds=45", nil), 7, domain.RoleUser))
	require.Equal(t, http.StatusOK, rr.Code)
	var env ResultEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Equal(t, "test_updates_7", env.ID)
}

func TestStartJob_AlreadyRunning(t *testing.T) {
	svc := &mockJobSvc{}
	h := NewJobHandler(svc)
	svc.On("StartTestJob", mock.Anything, int64(7), mock.Anything).Return(false, "test_notifications_7", nil)

	rr := httptest.NewRecorder()
	h.Start(rr, asUser(httptest.NewRequest(http.MethodPost, "/?kind=test_notifications", nil), 7, domain.RoleUser))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "already running")
}

func TestStartJob_IntervalOutOfRange(t *testing.T) {
	svc := &mockJobSvc{}
	h := NewJobHandler(svc)
	svc.On("StartTestJob", mock.Anything, int64(7), mock.Anything).Return(false, "", fmt.Errorf("interval: %w", domain.ErrValidation))

	rr := httptest.NewRecorder()
	h.Start(rr, asUser(httptest.NewRequest(http.MethodPost, "/?interval_seconds=5", nil), 7, domain.RoleUser))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStopJob_Missing(t *testing.T) {
	svc := &mockJobSvc{}
	h := NewJobHandler(svc)
	svc.On("StopTestJob", mock.Anything, int64(7), domain.JobTestUpdates).Return(false, nil)

	rr := httptest.NewRecorder()
	h.Stop(rr, asUser(httptest.NewRequest(http.MethodPost, "/", nil), 7, domain.RoleUser))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"success":false`)
}

func TestActive_OnlyCallerJobs(t *testing.T) {
	svc := &mockJobSvc{}
	h := NewJobHandler(svc)
	svc.On("ListJobs").Return([]domain.JobInfo{
		{ID: "daily_crop_updates"},
		{ID: "test_updates_7"},
		{ID: "test_updates_8"},
	})

	rr := httptest.NewRecorder()
	h.Active(rr, asUser(httptest.NewRequest(http.MethodGet, "/", nil), 7, domain.RoleUser))
	require.Equal(t, http.StatusOK, rr.Code)
	var env jobsEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.True(t, env.Active)
	require.Len(t, env.Jobs, 1)
	assert.Equal(t, "test_updates_7", env.Jobs[0].ID)
}

func TestListJobs_All(t *testing.T) {
	svc := &mockJobSvc{}
	h := NewJobHandler(svc)
	svc.On("ListJobs").Return([]domain.JobInfo{{ID: "daily_crop_updates", Trigger: "cron[08:00 Asia/Kolkata]"}})

	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "cron[08:00 Asia/Kolkata]")
}
