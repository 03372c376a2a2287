package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/corelink-io/corelink-core/internal/auth"
	"github.com/corelink-io/corelink-core/internal/correlation"
	"github.com/corelink-io/corelink-core/internal/device"
	"github.com/corelink-io/corelink-core/internal/rpc"
)

// Listing defaults. pageSize is capped so a single request cannot pull
// an unbounded history.
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// handleOneWayCall dispatches a fire-and-forget call to a device.
// POST /api/v1/rpc/oneway/{targetId}
func (s *Server) handleOneWayCall(w http.ResponseWriter, r *http.Request) {
	s.handleDeviceCall(w, r, true)
}

// handleTwoWayCall dispatches a call and holds the connection open until
// the reply, timeout, or failure arrives.
// POST /api/v1/rpc/twoway/{targetId}
func (s *Server) handleTwoWayCall(w http.ResponseWriter, r *http.Request) {
	s.handleDeviceCall(w, r, false)
}

func (s *Server) handleDeviceCall(w http.ResponseWriter, r *http.Request, oneWay bool) {
	claims := claimsFrom(r.Context())
	targetID := chi.URLParam(r, "targetId")

	if _, err := s.validator.AuthorizeTarget(r.Context(), claims, auth.PermRPCExecute, targetID); err != nil {
		s.writeAuthError(w, err)
		return
	}

	var req rpc.CallRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	call, err := s.dispatcher.Dispatch(r.Context(), targetID, claims.CustomerID, oneWay, req)
	if err != nil {
		switch {
		case errors.Is(err, rpc.ErrMethodRequired), errors.Is(err, rpc.ErrInvalidParams):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Error("dispatch failed", "target_id", targetID, "error", err)
			writeInternalError(w, "dispatch failed")
		}
		return
	}

	// Persistent calls answer immediately with the correlation id; the
	// caller polls or watches the lifecycle stream for the rest.
	if call.Persistent {
		writeJSON(w, http.StatusOK, map[string]string{"rpcId": call.CorrelationID.String()})
		return
	}

	s.awaitOutcome(w, r, call)
}

// awaitOutcome suspends on the pending call's handle and translates its
// single outcome into the HTTP response.
func (s *Server) awaitOutcome(w http.ResponseWriter, r *http.Request, call *rpc.PendingCall) {
	out, err := call.Handle.Wait(r.Context())
	if err != nil {
		// Caller went away. The registry entry stays until its deadline
		// so any durable record still advances; nothing to write here.
		s.logger.Debug("caller abandoned wait",
			"correlation_id", call.CorrelationID,
			"error", err,
		)
		return
	}

	switch out.Kind {
	case correlation.OutcomeReply:
		if len(out.Payload) == 0 {
			w.WriteHeader(http.StatusOK)
			return
		}
		writeRawJSON(w, http.StatusOK, out.Payload)
	case correlation.OutcomeTimeout:
		writeGatewayTimeout(w, "no response from target before the deadline")
	case correlation.OutcomeCancelled:
		writeNotFound(w, "call was removed before completion")
	case correlation.OutcomeFailed:
		if errors.Is(out.Err, rpc.ErrReplyNotDecodable) {
			writeNotAcceptable(w, "target replied with an undecodable payload")
			return
		}
		writeGatewayTimeout(w, "could not deliver call to target")
	default:
		writeInternalError(w, "unknown call outcome")
	}
}

// handleGetCall returns one persistent call record.
// GET /api/v1/rpc/persistent/{rpcId}
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if err := s.validator.Authorize(claims, auth.PermRPCRead); err != nil {
		s.writeAuthError(w, err)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "rpcId"))
	if err != nil {
		writeBadRequest(w, "invalid rpc id")
		return
	}

	record, err := s.records.GetByID(r.Context(), id.String())
	if err != nil {
		if errors.Is(err, rpc.ErrCallNotFound) {
			writeNotFound(w, "call not found")
			return
		}
		s.logger.Error("fetching call record", "rpc_id", id, "error", err)
		writeInternalError(w, "fetching call record")
		return
	}

	if !s.canSeeRecord(claims, record) {
		writeForbidden(w, "call belongs to another customer")
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// handleListCalls returns persistent call records for one target, newest
// first, paged with zero-based page numbers.
// GET /api/v1/rpc/persistent/target/{targetId}?page=0&pageSize=20
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	targetID := chi.URLParam(r, "targetId")

	if _, err := s.validator.AuthorizeTarget(r.Context(), claims, auth.PermRPCRead, targetID); err != nil {
		s.writeAuthError(w, err)
		return
	}

	page := queryInt(r, "page", 0)
	pageSize := queryInt(r, "pageSize", defaultPageSize)
	if page < 0 {
		page = 0
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}

	records, total, err := s.records.ListByTarget(r.Context(), targetID, page, pageSize)
	if err != nil {
		s.logger.Error("listing call records", "target_id", targetID, "error", err)
		writeInternalError(w, "listing call records")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":          records,
		"totalElements": total,
		"page":          page,
		"pageSize":      pageSize,
		"hasNext":       (page+1)*pageSize < total,
	})
}

// handleDeleteCall removes a persistent call record and cancels any
// pending completion tied to it.
// DELETE /api/v1/rpc/persistent/{rpcId}
func (s *Server) handleDeleteCall(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if err := s.validator.Authorize(claims, auth.PermRPCManage); err != nil {
		s.writeAuthError(w, err)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "rpcId"))
	if err != nil {
		writeBadRequest(w, "invalid rpc id")
		return
	}

	record, err := s.records.GetByID(r.Context(), id.String())
	if err != nil {
		if errors.Is(err, rpc.ErrCallNotFound) {
			writeNotFound(w, "call not found")
			return
		}
		s.logger.Error("fetching call record", "rpc_id", id, "error", err)
		writeInternalError(w, "fetching call record")
		return
	}
	if !s.canSeeRecord(claims, record) {
		writeForbidden(w, "call belongs to another customer")
		return
	}

	if err := s.dispatcher.DeletePersistent(r.Context(), id); err != nil {
		if errors.Is(err, rpc.ErrCallNotFound) {
			writeNotFound(w, "call not found")
			return
		}
		s.logger.Error("deleting call record", "rpc_id", id, "error", err)
		writeInternalError(w, "deleting call record")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// canSeeRecord enforces customer scoping on record reads. Admins see
// everything; unscoped records are visible to any authenticated caller.
func (s *Server) canSeeRecord(claims *auth.CustomClaims, record *rpc.Record) bool {
	if !auth.IsCustomerScoped(claims.Role) {
		return true
	}
	return record.CustomerID == "" || record.CustomerID == claims.CustomerID
}

// writeAuthError maps validator errors onto HTTP statuses.
func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrPermissionDenied), errors.Is(err, auth.ErrAccessDenied):
		writeForbidden(w, "access denied")
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "target not found")
	default:
		writeUnauthorized(w, "not authenticated")
	}
}

// decodeBody decodes a JSON request body into v, writing the error
// response itself. Returns a non-nil error when the response is already
// written.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return nil
	}

	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		writePayloadTooLarge(w, "request body too large")
	case errors.Is(err, io.EOF):
		writeBadRequest(w, "request body is required")
	default:
		writeBadRequest(w, "invalid JSON body")
	}
	return err
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
