package jwt

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaker_IssueAndVerify(t *testing.T) {
	maker := NewMaker("test_secret_key_1234567890")

	token, err := maker.Issue("scheduler", "cleanup", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := maker.Verify(token, "cleanup")
	require.NoError(t, err)
	assert.Equal(t, "scheduler", claims.Subject)
	assert.Equal(t, "cleanup", claims.Scope)
}

func TestMaker_VerifyFailures(t *testing.T) {
	maker := NewMaker("test_secret_key_1234567890")
	valid, err := maker.Issue("scheduler", "cleanup", time.Hour)
	require.NoError(t, err)

	expiredMaker := NewMaker("test_secret_key_1234567890")
	expiredMaker.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredMaker.Issue("scheduler", "cleanup", time.Hour)
	require.NoError(t, err)

	otherSecret, err := NewMaker("another_secret").Issue("scheduler", "cleanup", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		scope string
		is    error
	}{
		{name: "wrong scope", token: valid, scope: "signup", is: ErrScopeMismatch},
		{name: "expired token", token: expired, scope: "cleanup"},
		{name: "foreign signature", token: otherSecret, scope: "cleanup"},
		{name: "garbage", token: "not.a.token", scope: "cleanup"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := maker.Verify(tt.token, tt.scope)
			assert.Nil(t, claims)
			require.Error(t, err)
			if tt.is != nil {
				assert.True(t, errors.Is(err, tt.is))
			}
		})
	}
}
