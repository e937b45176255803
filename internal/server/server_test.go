package server

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nunoalves/firecentral/internal/kvstore"
	"github.com/nunoalves/firecentral/internal/model"
	"github.com/nunoalves/firecentral/internal/playback"
	"github.com/nunoalves/firecentral/internal/speech"
	"github.com/nunoalves/firecentral/internal/store"
)

// fakeAnnouncer records announcer calls.
type fakeAnnouncer struct {
	mu          sync.Mutex
	warmed      []string
	evicted     []string
	cleared     int
	rebuilt     int
	announced   []string
	announceErr error
}

func (f *fakeAnnouncer) Announce(_ context.Context, occurrenceID string, _ map[string][]string, sink playback.Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.announceErr != nil {
		return f.announceErr
	}
	f.announced = append(f.announced, occurrenceID)
	_ = sink.Append([]byte("cue"))
	return sink.Wait()
}

func (f *fakeAnnouncer) WarmCue(_ context.Context, key string, _ speech.Utterance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warmed = append(f.warmed, key)
}

func (f *fakeAnnouncer) EvictCue(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, key)
	return nil
}

func (f *fakeAnnouncer) ClearCache() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

func (f *fakeAnnouncer) RebuildCache(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilt++
	return nil
}

func (f *fakeAnnouncer) warmedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.warmed...)
}

func (f *fakeAnnouncer) evictedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.evicted...)
}

// fakePlayer hands out in-memory sinks.
type fakePlayer struct{}

func (fakePlayer) Session(context.Context) playback.Sink { return &playback.Buffer{} }

func newTestServer(t *testing.T) (*Server, *fakeAnnouncer, *store.Store) {
	t.Helper()
	kv := kvstore.Open(filepath.Join(t.TempDir(), "data_store.json"))
	st, err := store.New(kv)
	require.NoError(t, err)

	a := &fakeAnnouncer{}
	srv := New(0, st, a, fakePlayer{})
	return srv, a, st
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	return rec
}

func decodeID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp idResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func TestGetStoreEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/store", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ds model.DataStore
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ds))
	assert.Empty(t, ds.Occurrences)
	assert.Empty(t, ds.Staff)
	assert.Empty(t, ds.Vehicles)
	assert.Empty(t, ds.ActiveOccurrences)
}

func TestCreateOccurrenceWarmsCue(t *testing.T) {
	srv, a, st := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/occurrences", map[string]any{"label": "Incêndio urbano"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeID(t, rec)

	label, err := st.GetOccurrenceLabel(id)
	require.NoError(t, err)
	assert.Equal(t, "Incêndio urbano", label)

	// Warming runs off the request path.
	require.Eventually(t, func() bool {
		keys := a.warmedKeys()
		return len(keys) == 1 && keys[0] == id
	}, time.Second, 10*time.Millisecond)
}

func TestCreateOccurrenceRejectsMissingLabel(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/occurrences", map[string]any{"image": "fire.png"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateOccurrenceRegeneratesCueOnlyOnLabelChange(t *testing.T) {
	srv, a, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/occurrences", map[string]any{"label": "Acidente"})
	id := decodeID(t, rec)
	require.Eventually(t, func() bool { return len(a.warmedKeys()) == 1 }, time.Second, 10*time.Millisecond)

	// Same label: no cache churn.
	rec = do(t, srv, http.MethodPut, "/api/occurrences/"+id, map[string]any{"label": "Acidente", "image": "new.png"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, a.evictedKeys())

	// Changed label: evict and re-warm.
	rec = do(t, srv, http.MethodPut, "/api/occurrences/"+id, map[string]any{"label": "Acidente grave"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{id}, a.evictedKeys())
	require.Eventually(t, func() bool { return len(a.warmedKeys()) == 2 }, time.Second, 10*time.Millisecond)
}

func TestDeleteStaffEvictsCue(t *testing.T) {
	srv, a, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/staff", map[string]any{"label": "12"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeID(t, rec)

	rec = do(t, srv, http.MethodDelete, "/api/staff/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{id}, a.evictedKeys())
}

func TestVehicleStateDefaultsToAvailable(t *testing.T) {
	srv, _, st := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/vehicles", map[string]any{"label": "AB 01", "capacity": 6})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeID(t, rec)

	v, err := st.GetVehicle(id)
	require.NoError(t, err)
	assert.Equal(t, model.VehicleAvailable, v.State)
	require.NotNil(t, v.Capacity)
	assert.Equal(t, 6, *v.Capacity)
}

func TestVehicleRejectsUnknownState(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/vehicles", map[string]any{"label": "AB 01", "state": "flying"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActiveOccurrenceLifecycle(t *testing.T) {
	srv, _, st := newTestServer(t)

	occID := decodeID(t, do(t, srv, http.MethodPost, "/api/occurrences", map[string]any{"label": "Acidente"}))
	staffID := decodeID(t, do(t, srv, http.MethodPost, "/api/staff", map[string]any{"label": "7"}))
	vehicleID := decodeID(t, do(t, srv, http.MethodPost, "/api/vehicles", map[string]any{"label": "AB 01"}))

	rec := do(t, srv, http.MethodPost, "/api/active-occurrences", map[string]any{
		"occurrenceId":         occID,
		"staffIds":             []string{staffID},
		"vehicleIds":           []string{vehicleID},
		"vehicleAssignmentMap": map[string][]string{vehicleID: {staffID}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	aoID := decodeID(t, rec)

	staff, err := st.GetStaff(staffID)
	require.NoError(t, err)
	assert.Equal(t, model.StaffDispatched, staff.State)

	rec = do(t, srv, http.MethodDelete, "/api/active-occurrences/"+aoID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	staff, err = st.GetStaff(staffID)
	require.NoError(t, err)
	assert.Equal(t, model.StaffAvailable, staff.State)
}

func TestCreateActiveOccurrenceUnknownStaffIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)

	occID := decodeID(t, do(t, srv, http.MethodPost, "/api/occurrences", map[string]any{"label": "Acidente"}))

	rec := do(t, srv, http.MethodPost, "/api/active-occurrences", map[string]any{
		"occurrenceId": occID,
		"staffIds":     []string{"ghost"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateActiveOccurrenceInvalidAssignmentIs400(t *testing.T) {
	srv, _, _ := newTestServer(t)

	occID := decodeID(t, do(t, srv, http.MethodPost, "/api/occurrences", map[string]any{"label": "Acidente"}))
	vehicleID := decodeID(t, do(t, srv, http.MethodPost, "/api/vehicles", map[string]any{"label": "AB 01"}))

	// Assignment map references a vehicle not in vehicleIds.
	rec := do(t, srv, http.MethodPost, "/api/active-occurrences", map[string]any{
		"occurrenceId":         occID,
		"vehicleAssignmentMap": map[string][]string{vehicleID: {}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateActiveOccurrenceUnknownIdIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)

	occID := decodeID(t, do(t, srv, http.MethodPost, "/api/occurrences", map[string]any{"label": "Acidente"}))

	rec := do(t, srv, http.MethodPut, "/api/active-occurrences/ghost", map[string]any{
		"occurrenceId": occID,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShiftCommand(t *testing.T) {
	srv, _, st := newTestServer(t)

	onID := decodeID(t, do(t, srv, http.MethodPost, "/api/staff", map[string]any{"label": "1"}))
	offID := decodeID(t, do(t, srv, http.MethodPost, "/api/staff", map[string]any{"label": "2"}))

	rec := do(t, srv, http.MethodPost, "/api/shift", map[string]any{"availableStaffIds": []string{onID}})
	require.Equal(t, http.StatusNoContent, rec.Code)

	on, err := st.GetStaff(onID)
	require.NoError(t, err)
	assert.Equal(t, model.StaffAvailable, on.State)

	off, err := st.GetStaff(offID)
	require.NoError(t, err)
	assert.Equal(t, model.StaffUnavailable, off.State)
}

func TestAlertDrivesAnnouncer(t *testing.T) {
	srv, a, _ := newTestServer(t)

	occID := decodeID(t, do(t, srv, http.MethodPost, "/api/occurrences", map[string]any{"label": "Acidente"}))

	rec := do(t, srv, http.MethodPost, "/api/alert", map[string]any{
		"occurrenceId":         occID,
		"vehicleAssignmentMap": map[string][]string{},
	})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{occID}, a.announced)
}

func TestAlertRejectsMissingOccurrenceID(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/alert", map[string]any{
		"vehicleAssignmentMap": map[string][]string{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheMaintenanceEndpoints(t *testing.T) {
	srv, a, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/cache/rebuild", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, a.rebuilt)

	rec = do(t, srv, http.MethodDelete, "/api/cache", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, a.cleared)
}

func TestEventsStreamCarriesMutations(t *testing.T) {
	srv, _, _ := newTestServer(t)

	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Pump data frames into a channel so reads can be bounded by a timeout.
	frames := make(chan string, 16)
	go func() {
		defer close(frames)
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "data: ") {
				frames <- line
			}
		}
	}()

	nextFrame := func() string {
		select {
		case frame, ok := <-frames:
			require.True(t, ok, "event stream closed early")
			return frame
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for state event")
			return ""
		}
	}

	// A frame with the current (empty) store arrives on connect.
	assert.NotContains(t, nextFrame(), "Acidente")

	do(t, srv, http.MethodPost, "/api/occurrences", map[string]any{"label": "Acidente"})
	assert.Contains(t, nextFrame(), "Acidente")
}
