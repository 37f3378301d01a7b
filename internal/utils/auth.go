package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "type" claim
const (
	DeviceTokenType = "device"
	AdminTokenType  = "admin"
)

// IssueDeviceToken generates a long-lived token for a scanner device.
// A zero ttl issues a token without expiry.
func IssueDeviceToken(deviceID, secret string, ttl time.Duration) (string, error) {
	if deviceID == "" {
		return "", errors.New("device id is required")
	}

	return sign(jwt.MapClaims{"device_id": deviceID, "type": DeviceTokenType}, secret, ttl)
}

// IssueAdminToken generates a token for the operator tooling that imports
// participants and blocks devices
func IssueAdminToken(subject, secret string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	return sign(jwt.MapClaims{"sub": subject, "type": AdminTokenType}, secret, ttl)
}

func sign(claims jwt.MapClaims, secret string, ttl time.Duration) (string, error) {
	claims["iat"] = time.Now().Unix()
	if ttl > 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken parses and validates a token
func ValidateToken(tokenString string, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// DeviceIDFromClaims returns the device id of a device token
func DeviceIDFromClaims(claims jwt.MapClaims) (string, error) {
	if t, _ := claims["type"].(string); t != DeviceTokenType {
		return "", errors.New("not a device token")
	}
	id, _ := claims["device_id"].(string)
	if id == "" {
		return "", errors.New("token has no device id")
	}
	return id, nil
}

// IsAdminClaims reports whether claims belong to an operator token
func IsAdminClaims(claims jwt.MapClaims) bool {
	t, _ := claims["type"].(string)
	return t == AdminTokenType
}
