package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eNMS-automation/eNMS-sub001/internal/database"
)

func TestCreateSession(t *testing.T) {
	setupTest(t)
	srv := newTestServer(t)
	d, _ := createDeviceAndSession(t, database.ProtocolSSH)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", fmt.Sprintf(`{"device_id": %d}`, d.ID))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body["token"], 36)
	assert.Equal(t, database.SessionPending, body["status"])
	assert.Equal(t, false, body["live"])
}

func TestCreateSession_Errors(t *testing.T) {
	setupTest(t)
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"missing device", `{}`, http.StatusBadRequest},
		{"unknown device", `{"device_id": 99}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestListAndGetSession(t *testing.T) {
	setupTest(t)
	srv := newTestServer(t)
	_, sess := createDeviceAndSession(t, database.ProtocolSSH)
	require.NoError(t, database.CloseSession(sess.Token, "show version\n"))

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Sessions []map[string]interface{} `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Sessions, 1)
	assert.NotContains(t, list.Sessions[0], "transcript")

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+sess.Token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var one map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&one))
	assert.Equal(t, "show version\n", one["transcript"])

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCloseSession_EndsLiveShell(t *testing.T) {
	opener := setupTest(t)
	srv := newTestServer(t)
	d, sess := createDeviceAndSession(t, database.ProtocolSSH)

	conn := dialTerminal(t, srv, sess.Token, strconv.Itoa(int(d.ID)))
	sendInput(t, conn, "x")
	readOutputUntil(t, conn, "echo:x")

	resp := doJSON(t, http.MethodDelete, srv.URL+"/api/sessions/"+sess.Token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.True(t, opener.shell(t, 0).isClosed())
	assert.Equal(t, database.SessionClosed, sessionStatus(t, sess.Token))

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
