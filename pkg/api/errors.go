package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/mihaimyh/inkwell/pkg/auth"
	"github.com/mihaimyh/inkwell/pkg/billing"
	"github.com/mihaimyh/inkwell/pkg/community"
)

const maxRequestBodyBytes = 1 << 20

// errBadRequest marks malformed request bodies and query parameters
var errBadRequest = errors.New("bad request")

// errorMapping translates a sentinel into a status and an error code. First match wins.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{community.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{auth.ErrMissingToken, http.StatusUnauthorized, "unauthenticated"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "unauthenticated"},
	{auth.ErrExpiredToken, http.StatusUnauthorized, "unauthenticated"},
	{community.ErrNotMember, http.StatusForbidden, "membership_required"},
	{community.ErrForbidden, http.StatusForbidden, "forbidden"},
	{community.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{billing.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{errBadRequest, http.StatusBadRequest, "bad_request"},
	{community.ErrNotFound, http.StatusNotFound, "not_found"},
	{community.ErrSubscriptionNotFound, http.StatusNotFound, "not_found"},
	{billing.ErrCustomerNotFound, http.StatusNotFound, "customer_not_found"},
	{community.ErrCircleFull, http.StatusConflict, "circle_full"},
	{community.ErrAlreadyMember, http.StatusConflict, "already_member"},
	{community.ErrInviteNotPending, http.StatusConflict, "invite_not_pending"},
	{community.ErrConflict, http.StatusConflict, "conflict"},
	{community.ErrInviteExpired, http.StatusGone, "invite_expired"},
	{community.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{billing.ErrProviderAPIError, http.StatusBadGateway, "billing_unavailable"},
	{billing.ErrProviderNotConfigured, http.StatusServiceUnavailable, "billing_not_configured"},
	{billing.ErrTierNotConfigured, http.StatusServiceUnavailable, "billing_not_configured"},
	{billing.ErrNotSupported, http.StatusServiceUnavailable, "billing_not_configured"},
}

// statusFor maps an error to its HTTP status and error code
func statusFor(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// handleError writes the error envelope, or defers to Config.OnError
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	status, code := statusFor(err)
	body := ErrorBody{Code: code, Message: err.Error()}
	// Server-side causes are logged, never echoed
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
		body.Message = strings.ToLower(http.StatusText(status))
	}
	var verr *community.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
		body.Message = verr.Message
	}
	var rlErr *community.RateLimitError
	if errors.As(err, &rlErr) {
		retry := int(math.Ceil(time.Until(rlErr.RetryAt).Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
	}
	writeJSON(w, r, status, ErrorResponse{Error: body})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// The status line is already sent
		hlog.FromRequest(r).Warn().Err(err).Str("path", r.URL.Path).Msg("failed to encode response")
	}
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: request body must hold a single object", errBadRequest)
	}
	return nil
}

// queryInt parses an optional integer query parameter
func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return n, nil
}

// queryTime parses an optional RFC 3339 query parameter
func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", errBadRequest, name)
	}
	return &t, nil
}
