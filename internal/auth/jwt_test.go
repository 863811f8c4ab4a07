package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/watchparty/internal/models"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", 1)
	in := models.Requester{UserID: "u1", DisplayName: "Ann", Role: "student", CourseIDs: []string{"c1"}, GroupIDs: []string{"g1"}}

	token, err := svc.Generate(in)
	require.NoError(t, err)

	got, err := svc.ValidateRequester(token)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("secret", 1)
	token, err := NewJWTService("other", 1).Generate(models.Requester{UserID: "u1"})
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewJWTService("secret", -1)
	token, err = expired.Generate(models.Requester{UserID: "u1"})
	require.NoError(t, err)
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	token, err = svc.Generate(models.Requester{})
	require.NoError(t, err)
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "tokens without a user id are rejected")
}
