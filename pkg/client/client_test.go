package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskctl/remotetask/internal/api/handlers"
	"github.com/taskctl/remotetask/internal/remotetask"
)

func TestClient_CreateTask_SendsRequestAndDecodesResponse(t *testing.T) {
	var gotPath, gotMethod string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method

		var req handlers.CreateTaskRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "http://worker-1:8080/v1/task", req.TaskURI)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(handlers.TaskResponse{
			TaskId:  req.TaskId,
			TaskURI: req.TaskURI,
			Status:  remotetask.TaskStatus{State: remotetask.TaskStatePlanned},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.CreateTask(context.Background(), handlers.CreateTaskRequest{
		TaskId:  "q.1.0.0",
		TaskURI: "http://worker-1:8080/v1/task",
	})
	require.NoError(t, err)
	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, "/api/v1/tasks", gotPath)
	assert.Equal(t, "q.1.0.0", resp.TaskId)
	assert.Equal(t, remotetask.TaskStatePlanned, resp.Status.State)
}

func TestClient_GetTask_PropagatesNotFoundAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(handlers.ErrorResponse{
			Error:   "Not Found",
			Message: "task not found",
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetTask(context.Background(), "q.1.0.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task not found")
}

func TestClient_ListTasks_EncodesStateAndNodeFilters(t *testing.T) {
	var gotQuery string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(handlers.ListResponse{Tasks: nil, Count: 0})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.ListTasks(context.Background(), "RUNNING", "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Count)
	assert.Contains(t, gotQuery, "state=RUNNING")
	assert.Contains(t, gotQuery, "node=worker-1")
}

func TestClient_AbortTask_SetsAbortQueryParameter(t *testing.T) {
	var gotQuery, gotMethod string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotMethod = r.Method
		_ = json.NewEncoder(w).Encode(handlers.TaskResponse{TaskId: "q.1.0.0"})
	}))
	defer srv.Close()

	c := New(srv.URL, WithAPIKey("secret"))
	_, err := c.AbortTask(context.Background(), "q.1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "DELETE", gotMethod)
	assert.Equal(t, "abort=true", gotQuery)
}
