package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing-purposes"

func TestNewService(t *testing.T) {
	service := NewService(testSecret, time.Hour)

	assert.NotNil(t, service)
	assert.Equal(t, testSecret, service.secret)
	assert.Equal(t, time.Hour, service.accessTokenExpiry)
}

func TestGenerateAccessToken(t *testing.T) {
	service := NewService(testSecret, time.Hour)

	token, err := service.GenerateAccessToken("identity-1", "whim-medium")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	// Validate the generated token
	claims, err := service.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "identity-1", claims.IdentityID)
	assert.Equal(t, "whim-medium", claims.Plan)
	assert.Equal(t, "identity-1", claims.Subject)
	assert.Equal(t, "whim-booking-core", claims.Issuer)
}

func TestValidateAccessToken(t *testing.T) {
	service := NewService(testSecret, time.Hour)

	token, err := service.GenerateAccessToken("identity-1", "")
	require.NoError(t, err)

	// Test valid token
	claims, err := service.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "identity-1", claims.IdentityID)
	assert.Empty(t, claims.Plan)

	// Test invalid token
	_, err = service.ValidateAccessToken("invalid.token.here")
	assert.Error(t, err)

	// Test token with wrong secret
	wrongService := NewService("wrong-secret", time.Hour)
	_, err = wrongService.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestValidateTokenWithoutIdentity(t *testing.T) {
	service := NewService(testSecret, time.Hour)

	token, err := service.GenerateAccessToken("", "")
	require.NoError(t, err)

	_, err = service.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	// Create service with very short expiry
	service := NewService(testSecret, time.Millisecond)

	token, err := service.GenerateAccessToken("identity-1", "")
	require.NoError(t, err)

	// Wait for token to expire
	time.Sleep(10 * time.Millisecond)

	_, err = service.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestIsTokenExpired(t *testing.T) {
	service := NewService(testSecret, time.Hour)

	token, err := service.GenerateAccessToken("identity-1", "")
	require.NoError(t, err)
	assert.False(t, service.IsTokenExpired(token))

	shortService := NewService(testSecret, time.Millisecond)
	expired, err := shortService.GenerateAccessToken("identity-1", "")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	assert.True(t, shortService.IsTokenExpired(expired))

	assert.True(t, service.IsTokenExpired("garbage"))
}
