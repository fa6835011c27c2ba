package ayon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrollNextEvent(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/enroll", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "job-1", "dependsOn": "src-1"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", "worker-1")
	event, err := client.EnrollNextEvent(
		context.Background(), "syncsketch.review_session_end", "syncsketch.proc", "processing")
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, "job-1", event.ID)
	assert.Equal(t, "src-1", event.DependsOn)
	assert.Equal(t, "syncsketch.review_session_end", event.Topic)

	assert.Equal(t, "syncsketch.review_session_end", gotBody["sourceTopic"])
	assert.Equal(t, "syncsketch.proc", gotBody["targetTopic"])
	assert.Equal(t, "worker-1", gotBody["sender"])
	assert.Equal(t, true, gotBody["sequential"])
}

func TestEnrollNextEvent_NothingPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", "worker-1")
	event, err := client.EnrollNextEvent(
		context.Background(), "syncsketch.review_session_end", "syncsketch.proc", "")
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestUpdateEventStatus(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", "worker-1")
	require.NoError(t, client.UpdateEventStatus(context.Background(), "job-1", "finished"))

	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "/api/events/job-1", gotPath)
	assert.Equal(t, map[string]string{"status": "finished"}, gotBody)
}

func TestGetVersionByID_NotFoundIsNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", "worker-1")
	version, err := client.GetVersionByID(context.Background(), "TestProject", "ver-1")
	require.NoError(t, err)
	assert.Nil(t, version)
}

func TestGetVersionsByIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/projects/TestProject/versions/ver-1":
			w.Write([]byte(`{"id": "ver-1", "attrib": {"ftrackId": "ft-1"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", "worker-1")
	versions, err := client.GetVersionsByIDs(
		context.Background(), "TestProject", []string{"ver-1", "ver-gone"})
	require.NoError(t, err)

	require.Len(t, versions, 1)
	assert.Equal(t, "ft-1", versions["ver-1"].Attrib.FtrackID)
}

func TestAPIErrorIncludesStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail": "invalid key"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "bad-key", "worker-1")
	_, err := client.GetEvent(context.Background(), "src-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "invalid key")
}
