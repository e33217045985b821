package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestGenerateAndValidateJWT(t *testing.T) {
	userID := primitive.NewObjectID()
	secret := "test-secret"

	token, err := GenerateJWT(userID, "landlord@example.com", "landlord", secret, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, userID.Hex(), claims.UserID)
	assert.Equal(t, "landlord@example.com", claims.Email)
	assert.Equal(t, "landlord", claims.Role)
}

func TestValidateJWT_WrongSecret(t *testing.T) {
	userID := primitive.NewObjectID()
	token, err := GenerateJWT(userID, "r@example.com", "renter", "secret-a", time.Hour)
	require.NoError(t, err)

	_, err = ValidateJWT(token, "secret-b")
	assert.Error(t, err)
}

func TestValidateJWT_Expired(t *testing.T) {
	userID := primitive.NewObjectID()
	token, err := GenerateJWT(userID, "r@example.com", "renter", "secret", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateJWT(token, "secret")
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2hunter2")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("hunter2hunter2", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
}
