package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/console/internal/rbac"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func samplePayload() Payload {
	return Payload{
		SID: "sid-1",
		User: &User{ID: "u1", Name: "Ana", Email: "ana@example.com", Role: &rbac.Role{
			ID: "r1", Name: "Editor", Permissions: []rbac.Permission{{Name: "roles.read"}},
		}},
		AccessToken:   "at",
		RefreshToken:  "rt",
		ExpiresAt:     1_700_000_000_000,
		RolesSyncedAt: 1_699_999_000_000,
	}
}

func TestCodecRoundTrip(t *testing.T) {
	c, err := NewCodec(testSecret, time.Hour)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	token, err := c.Encode(samplePayload())
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(token, "."), "compact JWE has five parts")
	assert.NotContains(t, token, "roles.read")

	got, err := c.Decode(token)
	require.NoError(t, err)
	assert.False(t, got.Differs(samplePayload()))
	assert.True(t, now.Equal(got.IssuedAt()))
}

func TestCodecRejectsShortSecret(t *testing.T) {
	_, err := NewCodec("short", time.Hour)
	assert.ErrorIs(t, err, ErrShortSecret)
}

func TestCodecRejectsTamperedAndForeignTokens(t *testing.T) {
	c, err := NewCodec(testSecret, time.Hour)
	require.NoError(t, err)
	token, err := c.Encode(samplePayload())
	require.NoError(t, err)

	tampered := token[:len(token)-4] + "AAAA"
	_, err = c.Decode(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewCodec(strings.Repeat("x", 40), time.Hour)
	require.NoError(t, err)
	_, err = other.Decode(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = c.Decode("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCodecRejectsExpiredTokens(t *testing.T) {
	c, err := NewCodec(testSecret, time.Minute)
	require.NoError(t, err)
	now := time.Now()
	c.now = func() time.Time { return now }
	token, err := c.Encode(samplePayload())
	require.NoError(t, err)

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = c.Decode(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
