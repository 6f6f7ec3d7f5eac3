package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/davidahmann/riskledger/internal/apperr"
	"github.com/davidahmann/riskledger/internal/auth"
	"github.com/davidahmann/riskledger/internal/logging"
	"github.com/davidahmann/riskledger/pkg/types"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	Auth    auth.Authenticator
	Service *Service
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Log     zerolog.Logger
}

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(
		RequestID(h.Log),
		Logging(h.Log),
		Recoverer(h.Log),
	)

	r.Get("/health", h.Health)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}
	r.Post("/v1/credit/decision", h.Decide)

	r.Group(func(r chi.Router) {
		r.Use(RequireRole(h.Auth, auth.RoleReviewer))
		r.Post("/v1/credit/override", h.Override)
		r.Get("/v1/credit/decisions/{decisionID}", h.Current)
	})
	r.With(RequireRole(h.Auth, auth.RoleAdmin)).Get("/v1/ledger/verify", h.Verify)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, apperr.New(apperr.CodeNotFound, "route not found"))
	})
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, r, apperr.New(apperr.CodeUnavailable, "service not configured"))
		return
	}
	writeJSON(w, http.StatusOK, h.Service.Health(r.Context()))
}

func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	if !h.ensureService(w, r) {
		return
	}
	var req types.DecisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.Service.Decide(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Override(w http.ResponseWriter, r *http.Request) {
	if !h.ensureService(w, r) {
		return
	}
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, apperr.New(apperr.CodeUnauthorized, "missing token"))
		return
	}
	var req types.OverrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.Service.Override(r.Context(), p, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	if !h.ensureService(w, r) {
		return
	}
	resp, err := h.Service.Current(r.Context(), chi.URLParam(r, "decisionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	if !h.ensureService(w, r) {
		return
	}
	resp, err := h.Service.Verify(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ensureService(w http.ResponseWriter, r *http.Request) bool {
	if h.Service == nil {
		writeError(w, r, apperr.New(apperr.CodeUnavailable, "service not configured"))
		return false
	}
	return true
}

// decodeJSON decodes exactly one JSON object and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err, "invalid json").
			WithDetails(map[string]string{"body": err.Error()})
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apperr.New(apperr.CodeValidation, "invalid json").
			WithDetails(map[string]string{"body": "unexpected data after json object"})
	}
	return nil
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	typed := apperr.As(err)
	if typed == nil {
		typed = apperr.Wrap(apperr.CodeInternal, err, "unexpected error")
	}
	meta := apperr.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	switch typed.Code() {
	case apperr.CodeValidation,
		apperr.CodeUnauthorized,
		apperr.CodeForbidden,
		apperr.CodeNotFound,
		apperr.CodeConflict,
		apperr.CodeStateConflict,
		apperr.CodeIntegrity:
		if m := typed.Message(); m != "" {
			msg = m
		}
	}

	payload := errorEnvelope{Error: apiError{Code: string(typed.Code()), Message: msg}}
	if meta.DetailsAllowed {
		payload.Error.Details = typed.Details()
	}

	log := logging.FromContext(r.Context(), zerolog.Nop())
	evt := log.Warn()
	if meta.HTTPStatus >= http.StatusInternalServerError {
		evt = log.Error()
	}
	evt.Err(err).Str("error_code", string(typed.Code())).Int("status", meta.HTTPStatus).Msg("request failed")

	writeJSON(w, meta.HTTPStatus, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
