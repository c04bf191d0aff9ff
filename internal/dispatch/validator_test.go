package dispatch

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationToken(t *testing.T) {
	r := httptest.NewRequest("POST", "/webhook/notifications?validationToken=abc%20123", nil)
	token, ok := ValidationToken(r)
	assert.True(t, ok)
	assert.Equal(t, "abc 123", token)

	r = httptest.NewRequest("POST", "/webhook/notifications", nil)
	_, ok = ValidationToken(r)
	assert.False(t, ok)
}

func TestParseBatch(t *testing.T) {
	body := []byte(`{"value":[
		{"subscriptionId":"ext-1","resource":"users/a/messages/1","changeType":"created","clientState":"secret"},
		{"subscriptionId":"ext-2","resource":"users/b/messages/2","changeType":"created","clientState":"secret"}
	]}`)

	batch, dropped, err := ParseBatch(body, "secret")
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.Zero(t, dropped)
	assert.Equal(t, "ext-1", batch[0].SubscriptionID)
}

func TestParseBatch_DropsMalformedElements(t *testing.T) {
	body := []byte(`{"value":[
		{"subscriptionId":"ext-1","resource":"users/a/messages/1","changeType":"created","clientState":"secret"},
		{"subscriptionId":"","resource":"users/a/messages/2","changeType":"created","clientState":"secret"},
		{"subscriptionId":"ext-3","resource":"","changeType":"created","clientState":"secret"},
		{"subscriptionId":"ext-4","resource":"users/d/messages/4","clientState":"secret"}
	]}`)

	batch, dropped, err := ParseBatch(body, "secret")
	require.NoError(t, err)
	assert.Len(t, batch, 1)
	assert.Equal(t, 3, dropped)
}

func TestParseBatch_DropsClientStateMismatch(t *testing.T) {
	body := []byte(`{"value":[
		{"subscriptionId":"ext-1","resource":"users/a/messages/1","changeType":"created","clientState":"wrong"},
		{"subscriptionId":"ext-2","resource":"users/b/messages/2","changeType":"created","clientState":"secret"}
	]}`)

	batch, dropped, err := ParseBatch(body, "secret")
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "ext-2", batch[0].SubscriptionID)
	assert.Equal(t, 1, dropped)
}

func TestParseBatch_NoExpectedClientStateAcceptsAll(t *testing.T) {
	body := []byte(`{"value":[
		{"subscriptionId":"ext-1","resource":"users/a/messages/1","changeType":"created","clientState":"anything"}
	]}`)

	batch, dropped, err := ParseBatch(body, "")
	require.NoError(t, err)
	assert.Len(t, batch, 1)
	assert.Zero(t, dropped)
}

func TestParseBatch_MalformedBody(t *testing.T) {
	_, _, err := ParseBatch([]byte(`{not json`), "")
	assert.Error(t, err)
}
