package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eNMS-automation/eNMS-sub001/internal/crypto"
	"github.com/eNMS-automation/eNMS-sub001/internal/database"
)

func TestCreateDevice(t *testing.T) {
	setupTest(t)
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/devices",
		`{"name":"core-sw","host":"10.1.1.1","username":"netops","password":"hunter2"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, float64(22), body["port"])
	assert.Equal(t, database.ProtocolSSH, body["protocol"])
	assert.Equal(t, true, body["has_password"])

	d, err := database.GetDeviceByName("core-sw")
	require.NoError(t, err)
	plain, err := crypto.Decrypt(d.Password)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/devices", `{"name":"core-sw","host":"h","username":"u"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateDevice_Invalid(t *testing.T) {
	setupTest(t)
	srv := newTestServer(t)

	for _, body := range []string{
		`{`,
		`{"host":"h","username":"u"}`,
		`{"name":"a","username":"u"}`,
		`{"name":"a","protocol":"telnet"}`,
	} {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/devices", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestListDevices(t *testing.T) {
	setupTest(t)
	srv := newTestServer(t)
	createDeviceAndSession(t, database.ProtocolSSH)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/devices", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Devices []map[string]interface{} `json:"devices"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Devices, 1)
	assert.NotContains(t, body.Devices[0], "password")
	assert.Equal(t, true, body.Devices[0]["has_password"])
}
