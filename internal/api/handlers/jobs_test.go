package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalmbach/open-data-insights-sub000/internal/scheduler"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

type fakeScheduler struct {
	stats     map[string]scheduler.JobStats
	histories map[string]*scheduler.JobHistory
	triggered []string
}

func (f *fakeScheduler) GetJobStats() map[string]scheduler.JobStats {
	return f.stats
}

func (f *fakeScheduler) GetJobHistory(name string) (*scheduler.JobHistory, error) {
	history, ok := f.histories[name]
	if !ok {
		return nil, fmt.Errorf("job %s not found", name)
	}
	return history, nil
}

func (f *fakeScheduler) RunJob(name string) error {
	if _, ok := f.histories[name]; !ok {
		return fmt.Errorf("job %s not found", name)
	}
	f.triggered = append(f.triggered, name)
	return nil
}

func newJobRouter(sched *fakeScheduler) http.Handler {
	h := NewJobHandler(sched, logger.NewNop())
	r := mux.NewRouter()
	r.HandleFunc("/api/jobs", h.GetStats).Methods("GET")
	r.HandleFunc("/api/jobs/{name}/history", h.GetHistory).Methods("GET")
	r.HandleFunc("/api/jobs/{name}/run", h.TriggerRun).Methods("POST")
	return r
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGetStats(t *testing.T) {
	sched := &fakeScheduler{
		stats: map[string]scheduler.JobStats{
			"dataset_sync": {JobName: "dataset_sync", Schedule: "0 0 4 * * *", TotalRuns: 3, SuccessCount: 3, SuccessRate: 1.0},
		},
	}
	router := newJobRouter(sched)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]interface{})
	stats := data["dataset_sync"].(map[string]interface{})
	assert.Equal(t, "0 0 4 * * *", stats["schedule"])
	assert.Equal(t, float64(3), stats["total_runs"])
}

func TestGetHistory(t *testing.T) {
	history := &scheduler.JobHistory{}
	for i := 0; i < 5; i++ {
		history.AddResult(scheduler.JobResult{JobName: "dataset_sync", Success: i%2 == 0})
	}
	sched := &fakeScheduler{histories: map[string]*scheduler.JobHistory{"dataset_sync": history}}
	router := newJobRouter(sched)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs/dataset_sync/history?limit=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "dataset_sync", data["job"])
	assert.Len(t, data["results"], 2)
}

func TestGetHistoryUnknownJob(t *testing.T) {
	router := newJobRouter(&fakeScheduler{histories: map[string]*scheduler.JobHistory{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs/nope/history", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["error"], "not found")
}

func TestGetHistoryBadLimit(t *testing.T) {
	sched := &fakeScheduler{histories: map[string]*scheduler.JobHistory{"dataset_sync": {}}}
	router := newJobRouter(sched)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs/dataset_sync/history?limit=zero", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerRun(t *testing.T) {
	sched := &fakeScheduler{histories: map[string]*scheduler.JobHistory{"story_generation": {}}}
	router := newJobRouter(sched)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/jobs/story_generation/run", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"story_generation"}, sched.triggered)
}

func TestTriggerRunUnknownJob(t *testing.T) {
	router := newJobRouter(&fakeScheduler{histories: map[string]*scheduler.JobHistory{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/jobs/nope/run", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerRunRequiresPost(t *testing.T) {
	sched := &fakeScheduler{histories: map[string]*scheduler.JobHistory{"dataset_sync": {}}}
	router := newJobRouter(sched)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs/dataset_sync/run", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, sched.triggered)
}
