package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/fateprotocol/fate-engine/internal/domain"
)

// lamportsPerSOL is the fixed-point scale for stake amounts.
var lamportsPerSOL = decimal.New(1, 9)

// priceScale converts oracle prices (6 decimals) to human-readable values.
var priceScale = decimal.New(1, 6)

// sol renders a lamport amount as a decimal SOL string for API responses.
// Internal accounting stays in integer lamports; the conversion happens only
// at the presentation boundary.
func sol(lamports uint64) string {
	return decimal.NewFromUint64(lamports).DivRound(lamportsPerSOL, 9).String()
}

// oraclePrice renders a 6-decimal fixed-point oracle price as a decimal string.
func oraclePrice(p uint64) string {
	return decimal.NewFromUint64(p).DivRound(priceScale, 6).String()
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a service-layer error onto an HTTP status and sends
// it. Unrecognized errors become an opaque 500 so internals never leak.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "not authorized for this operation")
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrMatchFull),
		errors.Is(err, domain.ErrAlreadyJoined),
		errors.Is(err, domain.ErrNotJoined),
		errors.Is(err, domain.ErrPredictionLocked),
		errors.Is(err, domain.ErrPredictionClosed),
		errors.Is(err, domain.ErrVotingEnded),
		errors.Is(err, domain.ErrVotingNotEnded),
		errors.Is(err, domain.ErrResolutionNotReady),
		errors.Is(err, domain.ErrNoWinnings),
		errors.Is(err, domain.ErrAlreadyClaimed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusLocked, "operation in progress, retry shortly")
	case errors.Is(err, domain.ErrStalePrice),
		errors.Is(err, domain.ErrConfidenceTooWide),
		errors.Is(err, domain.ErrPriceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathID extracts a numeric entity id from the named path parameter using
// Go 1.22+ built-in routing (http.Request.PathValue).
func pathID(r *http.Request, name string) (uint64, error) {
	raw := r.PathValue(name)
	if raw == "" {
		return 0, errors.New("missing id")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// decodeBody decodes a JSON request body into dst, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
