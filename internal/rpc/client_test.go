package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_Do_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PLANNED", r.Header.Get("X-Presto-Current-State"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"state":"RUNNING"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(5*time.Second, false)
	header := http.Header{}
	header.Set("X-Presto-Current-State", "PLANNED")

	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/status", header, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "RUNNING")
}

func TestHTTPClient_Do_AfterClose(t *testing.T) {
	c := NewHTTPClient(5*time.Second, false)
	c.Close()

	_, err := c.Do(context.Background(), http.MethodGet, "http://example.invalid", nil, nil)
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestHTTPClient_Close_Idempotent(t *testing.T) {
	c := NewHTTPClient(5*time.Second, false)
	c.Close()
	c.Close() // must not panic
}

func TestHTTPClient_Do_POSTBody(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		received = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(5*time.Second, true)
	resp, err := c.Do(context.Background(), http.MethodPost, srv.URL, nil, []byte(`{"sources":[]}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"sources":[]}`, received)
}
