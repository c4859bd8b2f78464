package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vanish.share/config"
	"vanish.share/internal/engine"
	"vanish.share/internal/models"
	"vanish.share/internal/policy"
	"vanish.share/web"
)

type Handler struct {
	engine *engine.Engine
	policy *policy.Cache
	config *config.Config
}

func NewHandler(e *engine.Engine, p *policy.Cache, cfg *config.Config) *Handler {
	return &Handler{
		engine: e,
		policy: p,
		config: cfg,
	}
}

type CreateRequest struct {
	Ciphertext     []byte `json:"ciphertext"`
	EncryptedTitle []byte `json:"encrypted_title,omitempty"`
	MaxViews       int    `json:"max_views,omitempty"`
	TTLSeconds     int    `json:"ttl_seconds,omitempty"`
	Password       string `json:"password,omitempty"`
	AllowedIP      string `json:"allowed_ip,omitempty"`
	PreventBurn    bool   `json:"prevent_burn,omitempty"`
	HasFile        bool   `json:"has_file,omitempty"`
}

type CreateResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	MaxViews  int       `json:"max_views"`
}

type ViewResponse struct {
	Ciphertext     []byte `json:"ciphertext"`
	EncryptedTitle []byte `json:"encrypted_title,omitempty"`
	ViewsRemaining int    `json:"views_remaining"`
}

type StatusResponse struct {
	ID             string     `json:"id"`
	Exists         bool       `json:"exists"`
	Expired        bool       `json:"expired"`
	ViewsRemaining int        `json:"views_remaining,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

type SignupCheckRequest struct {
	Email string `json:"email"`
}

type PolicyResponse struct {
	ReadOnly                   bool      `json:"read_only"`
	DisableUsers               bool      `json:"disable_users"`
	DisableUserAccountCreation bool      `json:"disable_user_account_creation"`
	DisableFileUpload          bool      `json:"disable_file_upload"`
	HideAllowedIPInput         bool      `json:"hide_allowed_ip_input"`
	RestrictOrganizationEmail  string    `json:"restrict_organization_email"`
	UpdatedAt                  time.Time `json:"updated_at"`
}

type PolicyUpdateRequest struct {
	ReadOnly                   bool   `json:"read_only"`
	DisableUsers               bool   `json:"disable_users"`
	DisableUserAccountCreation bool   `json:"disable_user_account_creation"`
	DisableFileUpload          bool   `json:"disable_file_upload"`
	HideAllowedIPInput         bool   `json:"hide_allowed_ip_input"`
	RestrictOrganizationEmail  string `json:"restrict_organization_email"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateSecret(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Ciphertext) == 0 {
		h.error(w, http.StatusBadRequest, "ciphertext is required")
		return
	}

	result, err := h.engine.CreateSecret(r.Context(), engine.CreateRequest{
		Ciphertext:     req.Ciphertext,
		EncryptedTitle: req.EncryptedTitle,
		MaxViews:       req.MaxViews,
		TTL:            time.Duration(req.TTLSeconds) * time.Second,
		Password:       req.Password,
		AllowedIP:      req.AllowedIP,
		PreventBurn:    req.PreventBurn,
		HasFile:        req.HasFile,
		CreatorIP:      remoteIP(r),
	})
	if err != nil {
		h.handleEngineError(w, err)
		return
	}

	h.json(w, http.StatusCreated, CreateResponse{
		ID:        result.ID,
		URL:       h.config.Server.BaseURL + "/s/" + result.ID,
		ExpiresAt: result.ExpiresAt,
		MaxViews:  result.MaxViews,
	})
}

func (h *Handler) ViewSecret(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	password := r.Header.Get("X-Secret-Password")
	if password == "" {
		password = r.URL.Query().Get("password")
	}

	result, err := h.engine.ViewSecret(r.Context(), id, engine.ViewAttempt{
		Password: password,
		RemoteIP: remoteIP(r),
	})
	if err != nil {
		h.handleEngineError(w, err)
		return
	}

	h.json(w, http.StatusOK, ViewResponse{
		Ciphertext:     result.Ciphertext,
		EncryptedTitle: result.EncryptedTitle,
		ViewsRemaining: result.ViewsRemaining,
	})
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := h.engine.SecretStatus(r.Context(), id)
	if err != nil {
		h.handleEngineError(w, err)
		return
	}

	resp := StatusResponse{
		ID:      status.ID,
		Exists:  status.Exists,
		Expired: status.Expired,
	}
	if status.Exists {
		resp.ViewsRemaining = status.ViewsRemaining
		resp.ExpiresAt = &status.ExpiresAt
	}
	h.json(w, http.StatusOK, resp)
}

func (h *Handler) SignupCheck(w http.ResponseWriter, r *http.Request) {
	var req SignupCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		h.error(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := h.engine.CheckSignup(req.Email); err != nil {
		h.handleEngineError(w, err)
		return
	}
	h.json(w, http.StatusOK, map[string]bool{"allowed": true})
}

func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, policyResponse(h.policy.Current()))
}

func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings := models.PolicySettings{
		ReadOnly:                   req.ReadOnly,
		DisableUsers:               req.DisableUsers,
		DisableUserAccountCreation: req.DisableUserAccountCreation,
		DisableFileUpload:          req.DisableFileUpload,
		HideAllowedIPInput:         req.HideAllowedIPInput,
		RestrictOrganizationEmail:  req.RestrictOrganizationEmail,
	}
	if err := h.policy.Update(r.Context(), settings); err != nil {
		h.denial(w, http.StatusServiceUnavailable, "temporarily unable to update policy", engine.ReasonStoreUnavailable)
		return
	}

	h.json(w, http.StatusOK, policyResponse(h.policy.Current()))
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, "index.html")
}

func (h *Handler) RevealPage(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, "reveal.html")
}

func (h *Handler) serveFile(w http.ResponseWriter, filename string) {
	content, err := web.GetFile(filename)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(content)
}

func (h *Handler) json(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) error(w http.ResponseWriter, status int, message string) {
	h.json(w, status, ErrorResponse{Error: message})
}

func (h *Handler) denial(w http.ResponseWriter, status int, message string, reason engine.Reason) {
	h.json(w, status, ErrorResponse{Error: message, Code: string(reason)})
}

// handleEngineError maps engine outcomes to their stable external statuses.
// Each deny reason keeps a distinct status so clients can tell "wrong
// password" from "gone". Internal store detail is never exposed.
func (h *Handler) handleEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrInvalidTTL) {
		h.error(w, http.StatusBadRequest, "ttl is not an allowed duration")
		return
	}

	d, ok := engine.AsDenial(err)
	if !ok {
		h.error(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.denial(w, denialStatus(d.Reason), d.Message, d.Reason)
}

func denialStatus(reason engine.Reason) int {
	switch reason {
	case engine.ReasonNotFound:
		return http.StatusNotFound
	case engine.ReasonExpired:
		return http.StatusGone
	case engine.ReasonExhausted:
		return http.StatusLocked
	case engine.ReasonUnauthorized:
		return http.StatusUnauthorized
	case engine.ReasonForbidden:
		return http.StatusForbidden
	case engine.ReasonPolicyDenied:
		return http.StatusUnprocessableEntity
	case engine.ReasonStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func policyResponse(p models.PolicySettings) PolicyResponse {
	return PolicyResponse{
		ReadOnly:                   p.ReadOnly,
		DisableUsers:               p.DisableUsers,
		DisableUserAccountCreation: p.DisableUserAccountCreation,
		DisableFileUpload:          p.DisableFileUpload,
		HideAllowedIPInput:         p.HideAllowedIPInput,
		RestrictOrganizationEmail:  p.RestrictOrganizationEmail,
		UpdatedAt:                  p.UpdatedAt,
	}
}

func remoteIP(r *http.Request) string {
	// RealIP middleware rewrites RemoteAddr; fall back to stripping the port.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
