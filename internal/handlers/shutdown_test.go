package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eNMS-automation/eNMS-sub001/internal/database"
)

func postShutdown(t *testing.T, url, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestShutdown_StoresTranscriptAndClosesShell(t *testing.T) {
	opener := setupTest(t)
	srv := newTestServer(t)
	d, sess := createDeviceAndSession(t, database.ProtocolSSH)

	conn := dialTerminal(t, srv, sess.Token, strconv.Itoa(int(d.ID)))
	sendInput(t, conn, "l")
	readOutputUntil(t, conn, "echo:l")

	resp := postShutdown(t, srv.URL+"/shutdown?session="+sess.Token, `"file1\nfile2\n"`, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	loaded, err := database.GetSession(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, database.SessionClosed, loaded.Status)
	assert.Equal(t, "file1\nfile2\n", loaded.Transcript)
	assert.True(t, opener.shell(t, 0).isClosed())
	assert.Equal(t, 1.0, testutil.ToFloat64(Metrics.Transcripts))
}

func TestShutdown_EmptyTranscriptWithoutShell(t *testing.T) {
	setupTest(t)
	srv := newTestServer(t)
	_, sess := createDeviceAndSession(t, database.ProtocolSSH)

	resp := postShutdown(t, srv.URL+"/shutdown", `""`, map[string]string{"X-Session-Token": sess.Token})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	loaded, err := database.GetSession(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, database.SessionClosed, loaded.Status)
	assert.Empty(t, loaded.Transcript)
}

func TestShutdown_Errors(t *testing.T) {
	setupTest(t)
	srv := newTestServer(t)
	_, sess := createDeviceAndSession(t, database.ProtocolSSH)

	tests := []struct {
		name string
		url  string
		body string
		want int
	}{
		{"unknown session", "/shutdown?session=nope", `"x"`, http.StatusNotFound},
		{"missing session", "/shutdown", `"x"`, http.StatusBadRequest},
		{"object body", "/shutdown?session=" + sess.Token, `{"transcript":"x"}`, http.StatusBadRequest},
		{"empty body", "/shutdown?session=" + sess.Token, ``, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postShutdown(t, srv.URL+tt.url, tt.body, nil)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
	assert.Equal(t, database.SessionPending, sessionStatus(t, sess.Token))
}

func TestShutdown_SecondTranscriptReplaces(t *testing.T) {
	setupTest(t)
	srv := newTestServer(t)
	_, sess := createDeviceAndSession(t, database.ProtocolSSH)

	url := srv.URL + "/shutdown?session=" + sess.Token
	assert.Equal(t, http.StatusNoContent, postShutdown(t, url, `"first"`, nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, postShutdown(t, url, `"second"`, nil).StatusCode)

	loaded, err := database.GetSession(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "second", loaded.Transcript)
}
