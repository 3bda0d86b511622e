package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier(t *testing.T) {
	var got discordMessage

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := NewDiscordNotifier(server.URL, "syncbox")
	require.NoError(t, d.Notify(context.Background(), "Upload finished: a.jpg"))
	assert.Equal(t, "Upload finished: a.jpg", got.Content)
	assert.Equal(t, "syncbox", got.Username)
}

func TestDiscordNotifier_TruncatesLongMessages(t *testing.T) {
	var got discordMessage

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	long := strings.Repeat("é", discordMaxContent+10)
	require.NoError(t, NewDiscordNotifier(server.URL, "").Notify(context.Background(), long))
	assert.Equal(t, discordMaxContent, utf8.RuneCountInString(got.Content))
	assert.True(t, strings.HasSuffix(got.Content, "…"))
}

func TestDiscordNotifier_Errors(t *testing.T) {
	require.ErrorIs(t, NewDiscordNotifier("", "").Notify(context.Background(), "x"), ErrNoWebhook)

	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer limited.Close()

	err := NewDiscordNotifier(limited.URL, "").Notify(context.Background(), "x")
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Contains(t, err.Error(), "retry after 2")

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer broken.Close()

	err = NewDiscordNotifier(broken.URL, "").Notify(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
