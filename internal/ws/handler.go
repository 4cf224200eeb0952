package ws

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatcore/internal/domain"
	"chatcore/internal/security"
	"chatcore/internal/service"
)

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

// extractToken pulls the bearer token from the Authorization header or,
// for browser clients that cannot set headers on WebSocket requests, from
// the Sec-WebSocket-Protocol list ("bearer, <token>").
func extractToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if token := strings.TrimSpace(authHeader[len("Bearer "):]); token != "" {
			return token
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1]
		}
	}
	return ""
}

// MakeHandler returns the HTTP handler for the /ws endpoint.
// Authenticates via bearer token, then dispatches client events:
//   - message   -> persist and enqueue for broadcast
//   - mark_read -> mark a message read and push the read receipt
//   - typing    -> forward the typing indicator to the other participants
func MakeHandler(
	hub *Hub,
	tokens *security.TokenService,
	users domain.UserRepository,
	chat *service.ChatService,
	allowedOrigins []string,
	logger zerolog.Logger,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr := extractToken(r)
		if tokenStr == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		userID, err := tokens.ParseUserID(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		user, err := users.GetByID(ctx, userID)
		if err != nil || user == nil || !user.IsActive {
			http.Error(w, "user not found or inactive", http.StatusUnauthorized)
			return
		}

		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(raw)
		defer conn.Close()

		hub.Register(user.ID, conn)
		defer hub.Unregister(user.ID, conn)

		for {
			var payload map[string]any
			// Reading stays on the raw connection; gorilla allows one
			// reader alongside one writer.
			if err := raw.ReadJSON(&payload); err != nil {
				break
			}
			event, _ := payload["event"].(string)
			switch event {

			case "message":
				receiverIDf, _ := payload["receiver_id"].(float64)
				content, _ := payload["content"].(string)
				if receiverIDf == 0 || content == "" {
					sendError(conn, "message requires receiver_id and non-empty content")
					continue
				}
				var replyTo *string
				if rt, _ := payload["reply_to_id"].(string); rt != "" {
					replyTo = &rt
				}
				if _, err := chat.SendMessage(ctx, user.ID, int64(receiverIDf), content, replyTo); err != nil {
					logger.Warn().Err(err).Int64("user_id", user.ID).Msg("ws: send message")
					sendError(conn, "failed to send message")
				}

			case "mark_read":
				messageID, _ := payload["message_id"].(string)
				if messageID == "" {
					continue
				}
				if err := chat.MarkAsRead(ctx, messageID, user.ID); err != nil {
					logger.Warn().Err(err).Str("message_id", messageID).Msg("ws: mark_read")
					sendError(conn, "failed to mark message as read")
				}

			case "typing":
				conversationID, _ := payload["conversation_id"].(string)
				if conversationID == "" {
					continue
				}
				participantIDs, err := chat.ParticipantIDs(ctx, conversationID)
				if err != nil || !contains(participantIDs, user.ID) {
					sendError(conn, "not allowed for this conversation")
					continue
				}
				for _, pid := range participantIDs {
					if pid == user.ID {
						continue
					}
					_ = hub.PushToUser(pid, "typing", map[string]any{
						"conversation_id": conversationID,
						"user_id":         user.ID,
						"username":        user.Username,
					})
				}

			default:
				logger.Debug().Str("event", event).Int64("user_id", user.ID).Msg("ws: unknown event")
			}
		}
	}
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func sendError(conn *Conn, msg string) {
	_ = conn.WriteJSON(Envelope{Event: "error", Data: map[string]any{"message": msg}})
}
