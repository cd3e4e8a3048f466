package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-userman/pkg/schema"
)

func TestInvokeRoundTrip(t *testing.T) {
	c := New()
	stub := newMapStub()
	ctx := owner(stub)

	out, err := c.Invoke(ctx, "InitLedger", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"description":"KhoHong","name":"Alice","permission":"11","position":"Owner","userID":"user1"}`, out)

	out, err = c.Invoke(ctx, "AddNewUser", []string{"user2", "B", "01", "Doctor", "HYHospital"})
	require.NoError(t, err)
	assert.Equal(t, `{"description":"HYHospital","name":"B","permission":"01","position":"Doctor","userID":"user2"}`, out)

	out, err = c.Invoke(ctx, "UserExists", []string{"user2"})
	require.NoError(t, err)
	assert.Equal(t, "true", out)

	out, err = c.Invoke(ctx, "UpdateUser", []string{"user1", "00"})
	require.NoError(t, err)
	assert.Equal(t, `{"description":"KhoHong","name":"Alice","permission":"00","position":"Owner","userID":"user1"}`, out)

	out, err = c.Invoke(ctx, "GetUserPermission", []string{"user1"})
	require.NoError(t, err)
	assert.Equal(t, "00", out)

	out, err = c.Invoke(ctx, "GetAllUsers", nil)
	require.NoError(t, err)
	assert.Equal(t, `[{"description":"KhoHong","name":"Alice","permission":"00","position":"Owner","userID":"user1"},`+
		`{"description":"HYHospital","name":"B","permission":"01","position":"Doctor","userID":"user2"}]`, out)

	out, err = c.Invoke(ctx, "DeleteUser", []string{"user2"})
	require.NoError(t, err)
	assert.Equal(t, "", out)

	out, err = c.Invoke(ctx, "UserExists", []string{"user2"})
	require.NoError(t, err)
	assert.Equal(t, "false", out)

	_, err = c.Invoke(ctx, "GetUser", []string{"user2"})
	assert.True(t, schema.IsCode(err, schema.CodeUserNotFound))
}

func TestInvokeEmptyListing(t *testing.T) {
	out, err := New().Invoke(anonymous(newMapStub()), "GetAllUsers", nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestInvokeErrors(t *testing.T) {
	c := New()
	ctx := owner(newMapStub())

	_, err := c.Invoke(ctx, "unknownTransaction", nil)
	assert.ErrorIs(t, err, ErrUndefinedTransaction)

	_, err = c.Invoke(ctx, "GetUser", nil)
	assert.ErrorIs(t, err, ErrArgumentCount)

	_, err = c.Invoke(ctx, "AddNewUser", []string{"user2"})
	assert.ErrorIs(t, err, ErrArgumentCount)
}

func TestIntentOf(t *testing.T) {
	for _, fn := range []string{"InitLedger", "AddNewUser", "UpdateUser", "DeleteUser"} {
		intent, err := IntentOf(fn)
		require.NoError(t, err)
		assert.Equal(t, Submit, intent, fn)
	}
	for _, fn := range []string{"GetUser", "UserExists", "GetUserPermission", "GetAllUsers"} {
		intent, err := IntentOf(fn)
		require.NoError(t, err)
		assert.Equal(t, Evaluate, intent, fn)
	}

	_, err := IntentOf("Nope")
	assert.ErrorIs(t, err, ErrUndefinedTransaction)
	assert.Len(t, Transactions(), 8)
	assert.Equal(t, "submit", Submit.String())
}
