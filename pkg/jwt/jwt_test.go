package jwt

import (
	"testing"
	"time"

	"github.com/sensortrack/telemetry-hub/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	token, err := v.Sign(&models.Identity{
		UserID:    42,
		Username:  "ops",
		Email:     "ops@example.com",
		Role:      models.RoleCompanyAdmin,
		CompanyID: 7,
	}, time.Minute)
	require.NoError(t, err)

	identity, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, 42, identity.UserID)
	assert.Equal(t, models.RoleCompanyAdmin, identity.Role)
	assert.Equal(t, 7, identity.CompanyID)
}

func TestVerifier_WrongSecret(t *testing.T) {
	signer := NewVerifier([]byte("secret-a"))
	verifier := NewVerifier([]byte("secret-b"))

	token, err := signer.Sign(&models.Identity{UserID: 1, Role: models.RoleUser}, time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_ExpiredToken(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	token, err := v.Sign(&models.Identity{UserID: 1, Role: models.RoleUser}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_Garbage(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	_, err := v.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
