package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(users map[string]string) *issuer {
	return &issuer{
		key:      []byte("0123456789abcdef0123"),
		lifetime: time.Hour,
		users:    users,
		timeFunc: time.Now,
	}
}

func TestCheckCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		users    map[string]string
		user, pw string
		wantErr  bool
	}{
		{"dev mode accepts anything", nil, "bob", "x", false},
		{"dev mode still needs a password", nil, "bob", "", true},
		{"known user", map[string]string{"alice": "pw"}, "alice", "pw", false},
		{"wrong password", map[string]string{"alice": "pw"}, "alice", "nope", true},
		{"unknown user", map[string]string{"alice": "pw"}, "mallory", "pw", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := newTestIssuer(tt.users).checkCredentials(tt.user, tt.pw)
			if tt.wantErr {
				assert.ErrorIs(t, err, errBadCredentials)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIssueAndValidate(t *testing.T) {
	t.Parallel()

	i := newTestIssuer(nil)

	pair, err := i.issue("alice", "team-a")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, pair.expires)

	c, err := i.validate(pair.access, tokenAccess)
	require.NoError(t, err)
	assert.Equal(t, "team-a", c.Workspace)
	assert.Equal(t, "alice", c.Subject)

	_, err = i.validate(pair.refresh, tokenAccess)
	assert.ErrorIs(t, err, errWrongTokenType)

	_, err = i.validate(pair.access, tokenRefresh)
	assert.ErrorIs(t, err, errWrongTokenType)

	_, err = i.issue("alice", "")
	assert.ErrorIs(t, err, errMissingWorkspace)
}

func TestValidate_RejectsForeignKeyAndExpiry(t *testing.T) {
	t.Parallel()

	i := newTestIssuer(nil)

	other := newTestIssuer(nil)
	other.key = []byte("another-key-entirely")

	pair, err := other.issue("alice", "team-a")
	require.NoError(t, err)

	_, err = i.validate(pair.access, tokenAccess)
	assert.ErrorIs(t, err, errInvalidToken)

	past := newTestIssuer(nil)
	past.timeFunc = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	old, err := past.issue("alice", "team-a")
	require.NoError(t, err)

	_, err = i.validate(old.access, tokenAccess)
	assert.ErrorIs(t, err, errInvalidToken)

	_, err = i.validate("not-a-jwt", tokenAccess)
	assert.ErrorIs(t, err, errInvalidToken)
}
