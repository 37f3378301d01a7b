package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestDeviceToken(t *testing.T) {
	secret := "test-secret-key-12345"

	// Test Generation
	token, err := IssueDeviceToken("device-a", secret, time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	if token == "" {
		t.Fatal("Token should not be empty")
	}

	// Test Validation (Success)
	claims, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	id, err := DeviceIDFromClaims(claims)
	if err != nil {
		t.Fatalf("Failed to read device id: %v", err)
	}
	if id != "device-a" {
		t.Errorf("Device ID mismatch: got %s, want device-a", id)
	}

	// Test Validation (Wrong secret)
	if _, err := ValidateToken(token, "wrong-secret"); err == nil {
		t.Error("Token signed with another secret should fail validation")
	}
}

func TestDeviceToken_NoExpiry(t *testing.T) {
	token, err := IssueDeviceToken("device-b", "s", 0)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	claims, err := ValidateToken(token, "s")
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if _, ok := claims["exp"]; ok {
		t.Error("Token without ttl should not expire")
	}
}

func TestDeviceToken_Expired(t *testing.T) {
	claims := jwt.MapClaims{
		"device_id": "device-a",
		"type":      DeviceTokenType,
		"exp":       time.Now().Add(-time.Minute).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s"))
	if err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}
	if _, err := ValidateToken(token, "s"); err == nil {
		t.Error("Expired token should fail validation")
	}
}

func TestDeviceIDFromClaims_RejectsOtherTokens(t *testing.T) {
	if _, err := DeviceIDFromClaims(jwt.MapClaims{"type": "invite"}); err == nil {
		t.Error("Non-device token should be rejected")
	}
	if _, err := DeviceIDFromClaims(jwt.MapClaims{"type": DeviceTokenType}); err == nil {
		t.Error("Token without device id should be rejected")
	}
	if _, err := IssueDeviceToken("", "s", 0); err == nil {
		t.Error("Empty device id should be rejected")
	}
}

func TestAdminToken(t *testing.T) {
	token, err := IssueAdminToken("ops", "s", time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	claims, err := ValidateToken(token, "s")
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if !IsAdminClaims(claims) {
		t.Error("Admin token should carry admin claims")
	}
	if _, err := DeviceIDFromClaims(claims); err == nil {
		t.Error("Admin token must not authenticate a device")
	}
}
