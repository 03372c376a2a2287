package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/corelink-io/corelink-core/internal/auth"
	"github.com/corelink-io/corelink-core/internal/device"
)

// handleListDevices returns the devices visible to the caller. Scoped
// roles see their own customer's devices; admins see everything.
// GET /api/v1/devices
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if err := s.validator.Authorize(claims, auth.PermDeviceRead); err != nil {
		s.writeAuthError(w, err)
		return
	}

	var (
		devices []device.Device
		err     error
	)
	if auth.IsCustomerScoped(claims.Role) {
		devices, err = s.devices.ListByCustomer(r.Context(), claims.CustomerID)
	} else {
		devices, err = s.devices.List(r.Context())
	}
	if err != nil {
		s.logger.Error("listing devices", "error", err)
		writeInternalError(w, "listing devices")
		return
	}

	writeJSON(w, http.StatusOK, devices)
}

// handleGetDevice returns one device.
// GET /api/v1/devices/{id}
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id := chi.URLParam(r, "id")

	target, err := s.validator.AuthorizeTarget(r.Context(), claims, auth.PermDeviceRead, id)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, target)
}

// handleCreateDevice registers a new RPC target.
// POST /api/v1/devices
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if err := s.validator.Authorize(claims, auth.PermDeviceManage); err != nil {
		s.writeAuthError(w, err)
		return
	}

	var d device.Device
	if err := decodeBody(w, r, &d); err != nil {
		return
	}

	if err := s.devices.Create(r.Context(), &d); err != nil {
		switch {
		case errors.Is(err, device.ErrInvalidDevice):
			writeBadRequest(w, err.Error())
		case errors.Is(err, device.ErrDeviceExists):
			writeError(w, http.StatusConflict, ErrCodeConflict, "device id already exists")
		default:
			s.logger.Error("creating device", "device_id", d.ID, "error", err)
			writeInternalError(w, "creating device")
		}
		return
	}

	writeJSON(w, http.StatusCreated, d)
}

// handleUpdateDevice replaces a device's mutable fields.
// PUT /api/v1/devices/{id}
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id := chi.URLParam(r, "id")

	if _, err := s.validator.AuthorizeTarget(r.Context(), claims, auth.PermDeviceManage, id); err != nil {
		s.writeAuthError(w, err)
		return
	}

	var d device.Device
	if err := decodeBody(w, r, &d); err != nil {
		return
	}
	d.ID = id

	if err := s.devices.Update(r.Context(), &d); err != nil {
		switch {
		case errors.Is(err, device.ErrInvalidDevice):
			writeBadRequest(w, err.Error())
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		default:
			s.logger.Error("updating device", "device_id", id, "error", err)
			writeInternalError(w, "updating device")
		}
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDevice removes a device from the catalog.
// DELETE /api/v1/devices/{id}
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id := chi.URLParam(r, "id")

	if _, err := s.validator.AuthorizeTarget(r.Context(), claims, auth.PermDeviceManage, id); err != nil {
		s.writeAuthError(w, err)
		return
	}

	if err := s.devices.Delete(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("deleting device", "device_id", id, "error", err)
		writeInternalError(w, "deleting device")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
