package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/corelink-io/corelink-core/internal/auth"
	"github.com/corelink-io/corelink-core/internal/correlation"
	"github.com/corelink-io/corelink-core/internal/rpc"
)

// handleEnginePush forwards an opaque payload to the rule engine and
// waits for its reply.
// POST /api/v1/engine/{entityType}/{entityId}/{queueName}/{timeout}
//
// The timeout path segment is the relative deadline in milliseconds.
// Unlike device calls, a push that times out answers 408: the engine is
// part of our own backend, so the failure is the request's, not a
// gateway's.
func (s *Server) handleEnginePush(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if err := s.validator.Authorize(claims, auth.PermEnginePush); err != nil {
		s.writeAuthError(w, err)
		return
	}

	entityType := chi.URLParam(r, "entityType")
	entityID := chi.URLParam(r, "entityId")
	queueName := chi.URLParam(r, "queueName")
	if entityType == "" || entityID == "" || queueName == "" {
		writeBadRequest(w, "entity type, entity id, and queue name are required")
		return
	}

	timeoutMs, err := strconv.ParseInt(chi.URLParam(r, "timeout"), 10, 64)
	if err != nil || timeoutMs < 0 {
		writeBadRequest(w, "timeout must be a non-negative integer (milliseconds)")
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writePayloadTooLarge(w, "request body too large")
			return
		}
		writeBadRequest(w, "reading request body")
		return
	}

	originatorID := entityType + ":" + entityID
	call, err := s.dispatcher.DispatchEngine(r.Context(), originatorID, queueName, timeoutMs, payload)
	if err != nil {
		switch {
		case errors.Is(err, rpc.ErrEngineDisabled):
			writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "engine bus is not configured")
		case errors.Is(err, rpc.ErrInvalidParams):
			writeBadRequest(w, "payload must be a JSON document")
		default:
			s.logger.Error("engine push failed", "originator_id", originatorID, "error", err)
			writeInternalError(w, "engine push failed")
		}
		return
	}

	out, err := call.Handle.Wait(r.Context())
	if err != nil {
		s.logger.Debug("caller abandoned engine push",
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
		writeRequestTimeout(w, "engine did not reply before the deadline")
	case correlation.OutcomeCancelled:
		writeNotFound(w, "push was cancelled before completion")
	case correlation.OutcomeFailed:
		writeGatewayTimeout(w, "could not deliver push to the engine")
	default:
		writeInternalError(w, "unknown push outcome")
	}
}
