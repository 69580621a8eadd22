package relay

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/FaVaGit/CardApp-sub001/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // relay carries no secrets beyond the token gate
	},
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// Handler serves the relay HTTP surface: token issuance and the
// websocket endpoint.
type Handler struct {
	hub  *Hub
	auth *Auth
}

// NewHandler creates a relay handler.
func NewHandler(hub *Hub, auth *Auth) *Handler {
	return &Handler{hub: hub, auth: auth}
}

// Router builds the chi router for the relay.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	r.Post("/api/v1/tokens", h.issueToken)
	r.Get("/ws", h.handleWebSocket)

	return r
}

type tokenRequest struct {
	WindowID string `json:"window_id"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// issueToken handles POST /api/v1/tokens
func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.WindowID == "" {
		respondError(w, "window_id is required", http.StatusBadRequest)
		return
	}

	token, err := h.auth.IssueToken(req.WindowID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue token")
		respondError(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokenResponse{Token: token})
}

// handleWebSocket handles GET /ws
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, "token required", http.StatusUnauthorized)
		return
	}

	windowID, err := h.auth.ValidateToken(token)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	h.hub.Register(windowID, conn)
	defer h.hub.Unregister(windowID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("window_id", windowID).Msg("WebSocket error")
			}
			break
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Str("window_id", windowID).Msg("Failed to parse envelope")
			continue
		}
		// Trust the connection identity over whatever the client stamped.
		env.SenderID = windowID
		h.hub.Fanout(&env)
	}
}
