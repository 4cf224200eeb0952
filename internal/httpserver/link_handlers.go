package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatcore/internal/service"
)

type conversationLinkRequest struct {
	ConversationID string `json:"conversation_id"`
	OtherUserID    int64  `json:"other_user_id"`
}

type quickChatLinkRequest struct {
	TargetUserID int64 `json:"target_user_id"`
}

type messageLinkRequest struct {
	MessageID string `json:"message_id"`
}

type linkResponse struct {
	URL string `json:"url"`
}

func handleGenerateConversationLink(links *service.SecureLinkService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		var req conversationLinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		url, err := links.GenerateConversationLink(r.Context(), req.ConversationID, user.ID, req.OtherUserID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, linkResponse{URL: url})
	}
}

func handleGenerateQuickChatLink(links *service.SecureLinkService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		var req quickChatLinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		url, err := links.GenerateQuickChatLink(r.Context(), user.ID, req.TargetUserID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, linkResponse{URL: url})
	}
}

func handleGenerateMessageLink(links *service.SecureLinkService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		var req messageLinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		url, err := links.GenerateMessageLink(r.Context(), req.MessageID, user.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, linkResponse{URL: url})
	}
}

// handleResolveLink serves all three landing routes; the token itself
// carries the grant kind.
func handleResolveLink(links *service.SecureLinkService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		res, err := links.Resolve(r.Context(), chi.URLParam(r, "token"), user.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
