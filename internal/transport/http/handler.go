package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cwrk-planet/market-chat/internal/domain"
	"github.com/cwrk-planet/market-chat/internal/service"
	"github.com/cwrk-planet/market-chat/internal/transport/dto"
	httpmw "github.com/cwrk-planet/market-chat/internal/transport/http/middleware"
	"github.com/cwrk-planet/market-chat/pkg/httputil"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	chats  *service.ChatService
	blocks *service.BlockService
}

func NewHandler(chats *service.ChatService, blocks *service.BlockService) *Handler {
	return &Handler{chats: chats, blocks: blocks}
}

type createChatRequest struct {
	SellerID        string `json:"sellerId"`
	BuyerID         string `json:"buyerId"`
	ListingID       string `json:"listingId"`
	IsSystemMessage bool   `json:"isSystemMessage"`
}

type sendMessageRequest struct {
	Content     string     `json:"content"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	ClientMsgID string     `json:"clientMsgId,omitempty"`
}

type blockRequest struct {
	UserID string `json:"userId"`
}

type historyResponse struct {
	Items      []dto.Message `json:"items"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

// POST /chats
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(r.Context(), w, http.StatusBadRequest, "invalid json", nil)
		return
	}

	chat, created, err := h.chats.CreateOrGetChat(r.Context(), service.CreateChatCommand{
		ActorID:         httpmw.UserIDFromCtx(r.Context()),
		SellerID:        req.SellerID,
		BuyerID:         req.BuyerID,
		ListingID:       req.ListingID,
		IsSystemMessage: req.IsSystemMessage,
	})
	if err != nil {
		writeError(w, r, "handler.CreateChat", err)
		return
	}
	if created {
		httputil.Created(w, dto.ChatFrom(chat))
		return
	}
	httputil.OK(w, dto.ChatFrom(chat))
}

// GET /chats
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	items, err := h.chats.ListChatsForUser(r.Context(), httpmw.UserIDFromCtx(r.Context()))
	if err != nil {
		writeError(w, r, "handler.ListChats", err)
		return
	}
	httputil.OK(w, dto.Summaries(items))
}

// GET /chats/{id}
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := h.chats.GetChat(r.Context(), chi.URLParam(r, "id"), httpmw.UserIDFromCtx(r.Context()))
	if err != nil {
		writeError(w, r, "handler.GetChat", err)
		return
	}
	httputil.OK(w, dto.ChatFrom(chat))
}

// GET /chats/{id}/messages?after=<cursor>&limit=<n>
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.Error(r.Context(), w, http.StatusBadRequest, "invalid limit", nil)
			return
		}
		limit = n
	}

	items, next, err := h.chats.History(r.Context(),
		chi.URLParam(r, "id"),
		httpmw.UserIDFromCtx(r.Context()),
		r.URL.Query().Get("after"),
		limit,
	)
	if err != nil {
		writeError(w, r, "handler.History", err)
		return
	}
	httputil.OK(w, historyResponse{Items: dto.Messages(items), NextCursor: next})
}

// POST /chats/{id}/messages
// Отправка без WS: участники в комнате всё равно получают событие.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(r.Context(), w, http.StatusBadRequest, "invalid json", nil)
		return
	}

	d, err := h.chats.SendMessage(r.Context(), service.SendCommand{
		ChatID:      chi.URLParam(r, "id"),
		SenderID:    httpmw.UserIDFromCtx(r.Context()),
		Content:     req.Content,
		SentAt:      req.SentAt,
		ClientMsgID: req.ClientMsgID,
	})
	if err != nil {
		writeError(w, r, "handler.SendMessage", err)
		return
	}
	if d.Duplicate {
		httputil.OK(w, dto.MessageFrom(d.Message))
		return
	}
	httputil.Created(w, dto.MessageFrom(d.Message))
}

// POST /chats/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.chats.MarkRead(r.Context(), chi.URLParam(r, "id"), httpmw.UserIDFromCtx(r.Context())); err != nil {
		writeError(w, r, "handler.MarkRead", err)
		return
	}
	httputil.NoContent(w)
}

// GET /notifications/unread
func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	u, err := h.chats.Unread(r.Context(), httpmw.UserIDFromCtx(r.Context()))
	if err != nil {
		writeError(w, r, "handler.Unread", err)
		return
	}
	httputil.OK(w, dto.UnreadFrom(u))
}

// POST /blocks
func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(r.Context(), w, http.StatusBadRequest, "invalid json", nil)
		return
	}
	if err := h.blocks.Block(r.Context(), httpmw.UserIDFromCtx(r.Context()), req.UserID); err != nil {
		writeError(w, r, "handler.Block", err)
		return
	}
	httputil.NoContent(w)
}

// DELETE /blocks/{userId}
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	if err := h.blocks.Unblock(r.Context(), httpmw.UserIDFromCtx(r.Context()), chi.URLParam(r, "userId")); err != nil {
		writeError(w, r, "handler.Unblock", err)
		return
	}
	httputil.NoContent(w)
}

// GET /blocks
func (h *Handler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	items, err := h.blocks.List(r.Context(), httpmw.UserIDFromCtx(r.Context()))
	if err != nil {
		writeError(w, r, "handler.ListBlocks", err)
		return
	}
	httputil.OK(w, dto.Blocks(items))
}

func statusFor(err error) int {
	switch domain.Reason(err) {
	case domain.ReasonValidation:
		return http.StatusBadRequest
	case domain.ReasonNotFound:
		return http.StatusNotFound
	case domain.ReasonUnauthorized:
		return http.StatusForbidden
	case domain.ReasonBlocked:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	reason := domain.Reason(err)
	msg := err.Error()

	if status >= http.StatusInternalServerError {
		httputil.L(r.Context()).Error(op+":", "err", err)
		msg = "storage unavailable, try again"
	} else {
		httputil.L(r.Context()).Debug(op+":", "err", err)
	}

	httputil.Error(r.Context(), w, status, msg, map[string]any{
		"reason":    reason,
		"retryable": domain.Retryable(err),
	})
}
