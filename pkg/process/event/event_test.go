package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequiresModelId(t *testing.T) {
	_, err := Parse(map[string]any{"id": "1", "payload": map[string]any{}})

	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestParseFillsDefaults(t *testing.T) {
	// when
	e, err := Parse(map[string]any{"modelId": "machinestateChanged", "session": "s-1"})

	// then
	require.NoError(t, err)
	assert.NotEmpty(t, e.Id)
	assert.Equal(t, TypeUnknown, e.Type)
	assert.Equal(t, "s-1", e.SessionId)
	assert.NotNil(t, e.Payload)
	assert.False(t, e.Created.IsZero())
}

func TestParseRejectsNonObjectPayload(t *testing.T) {
	_, err := Parse(map[string]any{"modelId": "m", "payload": []any{1}})

	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestAsMapRoundTripKeepsExpiry(t *testing.T) {
	// given
	e := New("supportRequest", TypeUser, map[string]any{"supportId": "x"})
	e.SessionId = "s"
	expires := e.Created.Add(time.Minute).Truncate(time.Second)
	e.Expires = &expires

	// when
	parsed, err := Parse(e.AsMap())

	// then
	require.NoError(t, err)
	assert.Equal(t, e.Id, parsed.Id)
	assert.Equal(t, TypeUser, parsed.Type)
	assert.True(t, expires.Equal(*parsed.Expires))
	assert.False(t, parsed.Expired(e.Created))
	assert.True(t, parsed.Expired(expires.Add(time.Second)))
}

func TestUserIdOrPayload(t *testing.T) {
	e := New("m", TypeUser, map[string]any{"userId": "payload-user"})
	assert.Equal(t, "payload-user", e.UserIdOrPayload())

	e.UserId = "event-user"
	assert.Equal(t, "event-user", e.UserIdOrPayload())
}
