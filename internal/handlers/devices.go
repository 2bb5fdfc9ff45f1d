package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/eNMS-automation/eNMS-sub001/internal/database"
	"github.com/eNMS-automation/eNMS-sub001/internal/inventory"
)

type deviceResponse struct {
	database.Device
	HasPassword   bool `json:"has_password"`
	HasPrivateKey bool `json:"has_private_key"`
}

func toDeviceResponse(d database.Device) deviceResponse {
	return deviceResponse{
		Device:        d,
		HasPassword:   d.Password != "",
		HasPrivateKey: d.PrivateKey != "",
	}
}

func ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := database.ListDevices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list devices")
		return
	}
	resp := make([]deviceResponse, len(devices))
	for i, d := range devices {
		resp[i] = toDeviceResponse(d)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": resp})
}

type createDeviceRequest struct {
	Name       string `json:"name"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	PrivateKey string `json:"private_key"`
	Protocol   string `json:"protocol"`
}

// CreateDevice registers an SSH device. Credentials are encrypted before
// storage and never returned.
func CreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	d := inventory.Device{
		Name:       req.Name,
		Host:       req.Host,
		Port:       req.Port,
		Username:   req.Username,
		Password:   req.Password,
		PrivateKey: req.PrivateKey,
		Protocol:   req.Protocol,
	}
	if err := d.Normalize(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// A local device runs a shell on this host.
	if d.Protocol == database.ProtocolLocal {
		writeError(w, http.StatusForbidden, "local devices can only be declared in the inventory")
		return
	}

	if _, err := database.GetDeviceByName(d.Name); err == nil {
		writeError(w, http.StatusConflict, "Device name already exists")
		return
	} else if !errors.Is(err, database.ErrDeviceNotFound) {
		writeError(w, http.StatusInternalServerError, "Failed to check device")
		return
	}

	row, err := inventory.ToRow(d)
	if err != nil {
		Logger.Error("encrypt device credentials", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to store credentials")
		return
	}
	if err := database.CreateDevice(row); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create device")
		return
	}

	Logger.Info("device created", zap.String("device", row.Name), zap.Uint("device_id", row.ID))
	writeJSON(w, http.StatusCreated, toDeviceResponse(*row))
}
