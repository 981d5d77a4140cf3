package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)

		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	c := New("AC123", "secret")
	data, contentType, err := c.DownloadMedia(context.Background(), srv.URL+"/media/1")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
	assert.Equal(t, "image/jpeg", contentType)
}

func TestDownloadMedia_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := New("AC123", "secret")
	_, _, err := c.DownloadMedia(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, 1, calls)
}

func TestDownloadMedia_RetriesTransientStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("pdf-bytes"))
	}))
	defer srv.Close()

	c := New("AC123", "secret")
	data, contentType, err := c.DownloadMedia(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf-bytes"), data)
	assert.Equal(t, "application/pdf", contentType)
	assert.Equal(t, 3, calls)
}

func TestTwiML(t *testing.T) {
	assert.Equal(t,
		`<?xml version="1.0" encoding="UTF-8"?><Response></Response>`,
		TwiML(""))

	out := TwiML("Got it! Processing 2 receipts.")
	assert.Contains(t, out, "<Message>Got it! Processing 2 receipts.</Message>")

	// Reserved characters are escaped.
	out = TwiML(`totals < 100 & "done"`)
	assert.Contains(t, out, "&lt;")
	assert.Contains(t, out, "&amp;")
	assert.NotContains(t, out, `< 100 &`)
}
