// Package api exposes the HTTP surface of the relay next to the websocket
// endpoint: history, groups, user lifecycle, health and metrics.
package api

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/infrastructure/ws"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/services"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
)

type Handler struct {
	log                 *slog.Logger
	validate            *validator.Validate
	registry            contract.IRegistry
	userRepository      repositories.IUserRepository
	conversationService services.IConversationService
	messageService      services.IMessageService
}

func NewHandler(log *slog.Logger, registry contract.IRegistry, userRepository repositories.IUserRepository,
	conversationService services.IConversationService, messageService services.IMessageService) *Handler {
	return &Handler{
		log:                 log,
		validate:            validator.New(),
		registry:            registry,
		userRepository:      userRepository,
		conversationService: conversationService,
		messageService:      messageService,
	}
}

// NewRouter mounts the websocket endpoint and every HTTP route.
func NewRouter(h *Handler, websocket http.Handler, metrics *observability.Metrics) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/ws", websocket)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)

	chat := r.PathPrefix("/chat").Subrouter()
	chat.HandleFunc("/", h.status).Methods(http.MethodGet)
	chat.HandleFunc("/messages/{userId}/{otherUserId}", h.getMessages).Methods(http.MethodGet)
	chat.HandleFunc("/groups/{userId}", h.getGroups).Methods(http.MethodGet)
	chat.HandleFunc("/users/{userId}/logout", h.logout).Methods(http.MethodPost)

	r.HandleFunc("/internal/users", h.createUser).Methods(http.MethodPost)
	return r
}

type userPayload struct {
	ID        domain.UserID `json:"id"`
	Name      string        `json:"name"`
	Email     string        `json:"email"`
	Verified  bool          `json:"verified"`
	CreatedAt time.Time     `json:"createdAt"`
}

type groupPayload struct {
	ID        domain.ChatID   `json:"id"`
	Name      string          `json:"name"`
	Type      domain.ChatKind `json:"type"`
	Members   []domain.UserID `json:"participants"`
	CreatedAt time.Time       `json:"createdAt"`
}

type createUserRequest struct {
	Name  string `json:"name" validate:"required,max=100"`
	Email string `json:"email" validate:"required,email"`
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "working fine."})
}

// getMessages returns the history of a direct chat. It never creates one.
func (h *Handler) getMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r, "userId")
	if err != nil {
		h.fail(w, err)
		return
	}
	otherUserID, err := pathUserID(r, "otherUserId")
	if err != nil {
		h.fail(w, err)
		return
	}
	chat, messages, err := h.messageService.HistoryBetween(r.Context(), userID, otherUserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws.NewHistoryPayload(chat, messages))
}

func (h *Handler) getGroups(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r, "userId")
	if err != nil {
		h.fail(w, err)
		return
	}
	groups, err := h.conversationService.GetGroupsFor(r.Context(), userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(groups, func(chat domain.Chat, _ int) groupPayload {
		return groupPayload{ID: chat.ID, Name: chat.Name, Type: chat.Kind, Members: chat.Members, CreatedAt: chat.CreatedAt}
	}))
}

// logout marks the user unverified and ends all of their live sessions.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r, "userId")
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.userRepository.SetVerified(r.Context(), userID, false); err != nil {
		h.fail(w, err)
		return
	}
	closed := h.registry.CloseUser(userID)
	h.log.Info("User logged out", "user_id", userID, "sessions", closed)
	writeJSON(w, http.StatusOK, map[string]int{"closedSessions": closed})
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var body createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.fail(w, errors.ErrMalformedPayload)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		h.fail(w, errors.ErrMalformedPayload)
		return
	}
	user, err := h.userRepository.CreateUser(r.Context(), body.Name, body.Email)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userPayload{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Verified:  user.Verified,
		CreatedAt: user.CreatedAt,
	})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := http.StatusInternalServerError
	message := "internal error"
	switch code {
	case errors.CodeNotFound:
		status, message = http.StatusNotFound, err.Error()
	case errors.CodeInvalidInput:
		status, message = http.StatusBadRequest, err.Error()
	default:
		h.log.Error("Request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": message, "code": string(code)})
}

func pathUserID(r *http.Request, name string) (domain.UserID, error) {
	id, err := domain.ParseUserID(mux.Vars(r)[name])
	if err != nil {
		return 0, errors.ErrMalformedPayload
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
