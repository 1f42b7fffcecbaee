package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withAPI(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	prev := apiAddr
	apiAddr = ts.URL
	t.Cleanup(func() { apiAddr = prev })
}

func TestAPISend_NoContentIsNotAnError(t *testing.T) {
	withAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	ok, err := apiSend(http.MethodPost, "/tasks/x/done", nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAPISend_ErrorStatus(t *testing.T) {
	withAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "task busy", http.StatusConflict)
	})
	_, err := apiSend(http.MethodPost, "/tasks/x/done", map[string]string{"comment": ""}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "task busy")
}

func TestAPIGet_Decodes(t *testing.T) {
	withAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stages", r.URL.Path)
		w.Write([]byte(`[{"id":"s1","name":"Lead","position":0}]`))
	})
	var stages []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, apiGet("/stages", &stages))
	require.Len(t, stages, 1)
	assert.Equal(t, "Lead", stages[0].Name)
}

func TestCheckHealth_Unhealthy(t *testing.T) {
	withAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"ok":false,"db":"closed"}`))
	})
	health, err := CheckHealth()
	require.Error(t, err)
	require.NotNil(t, health)
	assert.Equal(t, "closed", health.DB)
	assert.False(t, isDaemonRunning())
}

func TestParseDue(t *testing.T) {
	due, err := parseDue("none")
	require.NoError(t, err)
	assert.Nil(t, due)

	due, err = parseDue("2026-03-01")
	require.NoError(t, err)
	require.NotNil(t, due)
	assert.Equal(t, 1, due.Day())

	_, err = parseDue("tomorrow")
	assert.Error(t, err)
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "$1200.00", formatCents(120000))
	assert.Equal(t, "$0.05", formatCents(5))
	assert.Equal(t, "-$3.50", formatCents(-350))
}

func TestConfirmFrom(t *testing.T) {
	var out strings.Builder
	assert.True(t, confirmFrom(strings.NewReader("y\n"), &out, "Delete?"))
	assert.Contains(t, out.String(), "Delete? [y/N]")
	assert.True(t, confirmFrom(strings.NewReader("YES\n"), &out, "Delete?"))
	assert.False(t, confirmFrom(strings.NewReader("\n"), &out, "Delete?"))
	assert.False(t, confirmFrom(strings.NewReader(""), &out, "Delete?"))
}
