package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"taskdeck/internal/auth"
	"taskdeck/internal/config"
	"taskdeck/internal/logx"
	"taskdeck/internal/store"
)

const minPasswordLength = 8

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body must be valid JSON")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	switch {
	case req.Name == "":
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name must not be empty")
		return
	case !strings.Contains(req.Email, "@"):
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email must be a valid address")
		return
	case len(req.Password) < minPasswordLength:
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logx.Event("error", "password_hash_failed", logx.Fields{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not create account")
		return
	}

	user, err := s.store.CreateUser(r.Context(), uuid.NewString(), req.Name, req.Email, string(hash))
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeError(w, http.StatusUnprocessableEntity, "EMAIL_TAKEN", "An account with this email already exists")
			return
		}
		s.storeError(w, "signup", err)
		return
	}

	s.issueAuthResponse(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body must be valid JSON")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email and password are required")
		return
	}

	lockedFor, err := s.loginLimiter.Check(r.Context(), req.Email)
	if err != nil {
		s.storeError(w, "login_rate_check", err)
		return
	}
	if lockedFor > 0 {
		logx.Event("warning", "login_locked", logx.Fields{"email_hash": logx.HashUserID(req.Email)})
		writeRateLimited(w, "RATE_LIMITED", "Too many failed login attempts. Try again later.", int(lockedFor.Seconds())+1)
		return
	}

	user, err := s.store.UserByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.storeError(w, "login", err)
		return
	}

	// Unknown email and wrong password take the same path, so the
	// response does not leak which emails exist.
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		if recErr := s.loginLimiter.RecordFailure(r.Context(), req.Email); recErr != nil {
			logx.Event("error", "login_failure_record_failed", logx.Fields{"error": recErr.Error()})
		}
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}

	if err := s.loginLimiter.Reset(r.Context(), req.Email); err != nil {
		logx.Event("error", "login_reset_failed", logx.Fields{"error": err.Error()})
	}
	s.issueAuthResponse(w, http.StatusOK, user)
}

func (s *Server) issueAuthResponse(w http.ResponseWriter, status int, user *store.User) {
	token, err := auth.IssueToken(s.cfg.AuthSecret, auth.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	}, config.TokenTTL)
	if err != nil {
		logx.Event("error", "token_issue_failed", logx.Fields{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not issue token")
		return
	}
	writeData(w, status, authResponse{Token: token, User: user})
}
