package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/yatrasync/internal/identity"
	"github.com/xelth-com/yatrasync/internal/models"
)

func newClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(StaticURL(srv.URL), "tok", identity.DeviceIdentity{DeviceID: "device-a"}, time.Second)
}

func event() models.ScanEvent {
	return models.ScanEvent{
		ID:             uuid.NewString(),
		ParticipantID:  "P1",
		CheckpointID:   "C1",
		OccurredAt:     time.Now().UTC(),
		OriginDeviceID: "device-a",
		SyncState:      models.SyncStatePending,
	}
}

func TestHTTPClient_CreateScan(t *testing.T) {
	var got models.ScanEvent
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/scans", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "device-a", r.Header.Get("X-Device-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"accepted":false,"duplicate":true,"existingId":"abc"}`))
	})

	ev := event()
	res, err := c.CreateScan(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.CreateResult{Duplicate: true, ExistingID: "abc"}, res)
	assert.Equal(t, ev.ID, got.ID)
	assert.Empty(t, got.SyncState, "sync state never leaves the device")
}

func TestHTTPClient_ErrorClassification(t *testing.T) {
	cases := []struct {
		status     int
		body       string
		transient  bool
		rejected   bool
		validation bool
	}{
		{status: 500, body: `{"error":"boom"}`, transient: true},
		{status: 503, transient: true},
		{status: 408, transient: true},
		{status: 429, transient: true},
		{status: 401, body: `{"error":"bad token"}`, transient: true},
		{status: 403, transient: true},
		{status: 404, rejected: true},
		{status: 409, rejected: true},
		{status: 422, body: `{"error":"unknown participant P9"}`, rejected: true},
		{status: 400, body: `{"error":"validation failed","fields":{"ScanEvent.ID":"uuid"}}`, validation: true},
	}

	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := c.CreateScan(context.Background(), event())
			require.Error(t, err)
			assert.Equal(t, tc.transient, IsTransient(err))
			assert.Equal(t, tc.rejected, errors.Is(err, models.ErrRejected))
			assert.Equal(t, tc.validation, models.IsValidationError(err))
		})
	}
}

func TestHTTPClient_NetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(StaticURL(url), "", identity.DeviceIdentity{}, time.Second)
	_, err := c.ListScansSince(context.Background(), time.Time{})
	assert.True(t, IsTransient(err))

	c = NewHTTPClient(StaticURL(""), "", identity.DeviceIdentity{}, time.Second)
	_, err = c.FullSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrNoRoute)
	assert.True(t, IsTransient(err))
}

func TestHTTPClient_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewHTTPClient(StaticURL(srv.URL), "", identity.DeviceIdentity{}, 50*time.Millisecond)
	_, err := c.CreateScan(context.Background(), event())
	assert.True(t, IsTransient(err))
}

func TestHTTPClient_ListScansSince(t *testing.T) {
	since := time.Date(2025, 1, 10, 6, 30, 0, 123456789, time.UTC)
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/scans", r.URL.Path)
		parsed, err := time.Parse(time.RFC3339Nano, r.URL.Query().Get("since"))
		require.NoError(t, err)
		assert.True(t, since.Equal(parsed))
		_, _ = w.Write([]byte(`{"scans":[{"id":"s1","participantId":"P1","checkpointId":"C1","originDeviceId":"device-b","occurredAt":"2025-01-10T06:31:00Z","receivedAt":"2025-01-10T06:31:01Z"}]}`))
	})

	scans, err := c.ListScansSince(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, models.SyncStateConfirmed, scans[0].SyncState)
	assert.Equal(t, "device-b", scans[0].OriginDeviceID)
}

func TestHTTPClient_FullSnapshot(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/snapshot", r.URL.Path)
		_, _ = w.Write([]byte(`{"participants":[{"id":"P1","name":"Yatri","qrToken":"PALITANA_YATRA_1"}],"scans":[],"asOf":"2025-01-10T07:00:00Z"}`))
	})

	snap, err := c.FullSnapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Participants, 1)
	assert.Empty(t, snap.Scans)
	assert.Equal(t, 2025, snap.AsOf.Year())
}
