package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/xelth-com/yatrasync/internal/models"
	"github.com/xelth-com/yatrasync/internal/utils"
)

type contextKey string

const (
	DeviceContextKey contextKey = "device"
	ClaimsContextKey contextKey = "claims"
)

// DeviceRegistry records authenticated devices
type DeviceRegistry interface {
	TouchDevice(ctx context.Context, deviceID string) (*models.RegisteredDevice, error)
}

// bearerClaims validates the Authorization header and writes the error
// response itself when it fails
func bearerClaims(w http.ResponseWriter, r *http.Request, secret string) (jwt.MapClaims, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		http.Error(w, "Authorization header required", http.StatusUnauthorized)
		return nil, false
	}

	// Bearer token
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
		return nil, false
	}

	claims, err := utils.ValidateToken(parts[1], secret)
	if err != nil {
		http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
		return nil, false
	}
	return claims, true
}

// DeviceAuth verifies scanner JWTs. The X-Device-ID header, when sent, must
// match the token. Every authenticated request refreshes the device's
// last-seen time, and blocked devices are refused.
func DeviceAuth(secret string, registry DeviceRegistry, logger logrus.FieldLogger) func(http.Handler) http.Handler {
	log := logger.WithField("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := bearerClaims(w, r, secret)
			if !ok {
				return
			}

			deviceID, err := utils.DeviceIDFromClaims(claims)
			if err != nil {
				http.Error(w, "Invalid token: "+err.Error(), http.StatusUnauthorized)
				return
			}

			if hdr := r.Header.Get("X-Device-ID"); hdr != "" && hdr != deviceID {
				log.WithFields(logrus.Fields{"token_device": deviceID, "header_device": hdr}).Warn("⚠️ Device ID mismatch")
				http.Error(w, "Device ID does not match token", http.StatusForbidden)
				return
			}

			dev, err := registry.TouchDevice(r.Context(), deviceID)
			if err != nil {
				log.WithError(err).WithField("device_id", deviceID).Error("Failed to register device")
				http.Error(w, "Device registry unavailable", http.StatusServiceUnavailable)
				return
			}
			if dev.Status == models.DeviceStatusBlocked {
				http.Error(w, "Device is blocked", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), DeviceContextKey, deviceID)
			ctx = context.WithValue(ctx, ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuth only lets operator tokens through
func AdminAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := bearerClaims(w, r, secret)
			if !ok {
				return
			}
			if !utils.IsAdminClaims(claims) {
				http.Error(w, "Admin token required", http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DeviceIDFromContext retrieves the authenticated device ID
func DeviceIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(DeviceContextKey).(string)
	return id, ok && id != ""
}
