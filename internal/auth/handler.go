package auth

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dreamimg/backend/internal/models"
	"github.com/dreamimg/backend/internal/validation"
)

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AccountResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Credits int    `json:"credits"`
}

type LoginResponse struct {
	Token   string          `json:"token"`
	Account AccountResponse `json:"account"`
}

// SchemaValidator checks a raw body against a named JSON schema.
type SchemaValidator interface {
	Validate(name string, raw []byte) error
}

type Handler struct {
	svc       Service
	validator SchemaValidator
	log       *slog.Logger
}

func NewHandler(svc Service, validator SchemaValidator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: validator, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "failed to read body")
		return
	}
	if err := h.validator.Validate(validation.SchemaRegisterRequest, raw); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", err.Error())
		return
	}
	var req RegisterRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid JSON")
		return
	}
	acc, err := h.svc.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			writeError(w, http.StatusConflict, "ValidationError", "email already registered")
			return
		}
		h.log.Error("register failed", "error", err)
		writeError(w, http.StatusInternalServerError, "PersistenceError", "registration failed")
		return
	}
	h.log.Info("account registered", "account_id", acc.ID, "credits", acc.CreditBalance)
	writeJSON(w, http.StatusCreated, accountToResponse(acc))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid JSON")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "ValidationError", "missing email or password")
		return
	}
	token, acc, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "AuthError", "invalid credentials")
			return
		}
		h.log.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "PersistenceError", "login failed")
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, Account: accountToResponse(acc)})
}

func accountToResponse(a *models.Account) AccountResponse {
	return AccountResponse{
		ID:      a.ID.String(),
		Email:   a.Email,
		Name:    a.Name,
		Credits: a.CreditBalance,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"code": code, "message": msg})
}
