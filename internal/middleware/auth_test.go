package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/yatrasync/internal/logging"
	"github.com/xelth-com/yatrasync/internal/models"
	"github.com/xelth-com/yatrasync/internal/store/storetest"
	"github.com/xelth-com/yatrasync/internal/utils"
)

const secret = "test-secret"

func deviceToken(t *testing.T, id string) string {
	t.Helper()
	tok, err := utils.IssueDeviceToken(id, secret, 0)
	require.NoError(t, err)
	return tok
}

func serve(h http.Handler, token, deviceHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/scans", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if deviceHeader != "" {
		req.Header.Set("X-Device-ID", deviceHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDeviceAuth(t *testing.T) {
	s := storetest.New(t)

	var seen string
	h := DeviceAuth(secret, s, logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = DeviceIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	admin, err := utils.IssueAdminToken("ops", secret, 0)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"missing header", "", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", "", http.StatusUnauthorized},
		{"admin token", admin, "", http.StatusUnauthorized},
		{"header mismatch", deviceToken(t, "device-a"), "device-b", http.StatusForbidden},
		{"ok without header", deviceToken(t, "device-a"), "", http.StatusNoContent},
		{"ok with header", deviceToken(t, "device-a"), "device-a", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.token, tt.header)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, "device-a", seen)

	devices, err := s.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "device-a", devices[0].DeviceID)
}

func TestDeviceAuth_BlockedDevice(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	_, err := s.TouchDevice(ctx, "device-a")
	require.NoError(t, err)
	require.NoError(t, s.SetDeviceStatus(ctx, "device-a", models.DeviceStatusBlocked))

	h := DeviceAuth(secret, s, logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("blocked device reached the handler")
	}))
	assert.Equal(t, http.StatusForbidden, serve(h, deviceToken(t, "device-a"), "").Code)
}

func TestAdminAuth(t *testing.T) {
	h := AdminAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	admin, err := utils.IssueAdminToken("ops", secret, 0)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, serve(h, admin, "").Code)
	assert.Equal(t, http.StatusForbidden, serve(h, deviceToken(t, "device-a"), "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "", "").Code)
}
