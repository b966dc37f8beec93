package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyStart
)

// requestID pulls the request id set by the middleware.
func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return id
	}
	return ""
}

func buildMeta(r *http.Request) Meta {
	meta := Meta{
		RequestID: requestID(r.Context()),
		Timestamp: time.Now().UTC(),
	}
	if start, ok := r.Context().Value(ctxKeyStart).(time.Time); ok {
		meta.ResponseTimeMS = time.Since(start).Milliseconds()
	}
	return meta
}

// writeData writes the canonical success envelope.
func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, Envelope{Data: data, Meta: buildMeta(r)})
}

// writeError writes the canonical error envelope.
func writeError(w http.ResponseWriter, r *http.Request, status int, message, code string) {
	writeJSON(w, status, ErrorEnvelope{
		Error: ErrorBody{Message: message, Code: code},
		Meta:  buildMeta(r),
	})
}

// writeInternal logs the cause and serves an opaque 500.
func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	log.Error().Err(err).
		Str("request_id", requestID(r.Context())).
		Str("path", r.URL.Path).
		Msg("request failed")
	writeError(w, r, http.StatusInternalServerError, "internal error", CodeInternal)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
