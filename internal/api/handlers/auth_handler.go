package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	middleware "github.com/markdave123-py/Cardify/internal/api/middlewares"
	"github.com/markdave123-py/Cardify/internal/models"
	"github.com/markdave123-py/Cardify/internal/pkg/logger"
)

const tokenTTL = 24 * time.Hour

type userService interface {
	Signup(ctx context.Context, firstName, email, password string) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
}

type AuthHandler struct {
	users  userService
	secret string
	log    *logger.Logger
}

func NewAuthHandler(users userService, secret string, log *logger.Logger) *AuthHandler {
	return &AuthHandler{users: users, secret: secret, log: log.With("handler", "auth")}
}

type signupRequest struct {
	FirstName string `json:"first_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user,omitempty"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid body")
		return
	}

	user, err := h.users.Signup(r.Context(), req.FirstName, req.Email, req.Password)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.respondWithToken(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid body")
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.respondWithToken(w, http.StatusOK, user)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, status int, user *models.User) {
	token, err := middleware.NewToken(h.secret, user.ID, tokenTTL)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, status, authResponse{Token: token, User: user})
}
