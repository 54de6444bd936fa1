package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/relaysms/contact-gateway/internal/auth"
	"github.com/relaysms/contact-gateway/internal/model"
	"github.com/relaysms/contact-gateway/internal/pipeline"
	xhttp "github.com/relaysms/contact-gateway/pkg/http"
	"github.com/relaysms/contact-gateway/pkg/logger"
)

// MessageService is the pipeline surface the HTTP layer drives.
// *pipeline.Pipeline satisfies it.
type MessageService interface {
	Create(ctx context.Context, req model.MessageCreateRequest) (*model.Message, error)
	Send(ctx context.Context, messageID, ownerID int64) (*model.Message, error)
	SendToContacts(ctx context.Context, req model.BulkSendRequest) (*model.Message, error)
	Cancel(ctx context.Context, messageID, ownerID int64) (*model.Message, error)
	Get(ctx context.Context, messageID, ownerID int64) (*model.Message, error)
	Recipients(ctx context.Context, messageID, ownerID int64) ([]*model.MessageRecipient, *model.RecipientAggregate, error)
	List(ctx context.Context, ownerID int64, f model.MessageFilter) ([]*model.Message, int64, error)
}

// Authorizer authenticates bearer tokens. *auth.Verifier satisfies it.
type Authorizer interface {
	Verify(token string) (*auth.Claims, error)
}

type MessageHandler struct {
	svc        MessageService
	authorizer Authorizer
}

func RegisterMessageRoutes(e *router.Group, h *MessageHandler) {
	e.POST("/messages", h.withAuth(h.CreateMessage))
	e.POST("/messages/bulk", h.withAuth(h.CreateBulkMessage))
	e.POST("/messages/{id}/cancel", h.withAuth(h.CancelMessage))
	e.GET("/messages", h.withAuth(h.ListMessages))
	e.GET("/messages/{id}", h.withAuth(h.GetMessage))
}

func NewMessageHandler(svc MessageService, authorizer Authorizer) *MessageHandler {
	return &MessageHandler{
		svc:        svc,
		authorizer: authorizer,
	}
}

type createMessageRequest struct {
	Content     string                 `json:"content"`
	ScheduledAt *time.Time             `json:"scheduled_at,omitempty"`
	Recipients  []model.RecipientInput `json:"recipients"`
}

type createBulkRequest struct {
	Content     string     `json:"content"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	ContactIDs  []int64    `json:"contact_ids,omitempty"`
	GroupIDs    []int64    `json:"group_ids,omitempty"`
}

type listResponse struct {
	Items []*model.Message `json:"items"`
	Total int64            `json:"total"`
}

type messageDetailResponse struct {
	Message    *model.Message            `json:"message"`
	Recipients []*model.MessageRecipient `json:"recipients"`
	Aggregate  *model.RecipientAggregate `json:"aggregate"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *MessageHandler) CreateMessage(ctx *xhttp.RequestCtx, userID int64) {
	var req createMessageRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	msg, err := h.svc.Create(ctx, model.MessageCreateRequest{
		UserID:      userID,
		Content:     req.Content,
		ScheduledAt: req.ScheduledAt,
		Recipients:  req.Recipients,
	})
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}

	// Immediate sends run within the request. Partial recipient
	// failure is reflected in the body, never in the status code.
	if msg.Status == model.MessageStatusDraft {
		if msg, err = h.svc.Send(ctx, msg.ID, userID); err != nil {
			writeError(ctx, xhttp.StatusBadRequest, err.Error())
			return
		}
	}

	writeJSON(ctx, xhttp.StatusCreated, msg)
}

func (h *MessageHandler) CreateBulkMessage(ctx *xhttp.RequestCtx, userID int64) {
	var req createBulkRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	msg, err := h.svc.SendToContacts(ctx, model.BulkSendRequest{
		UserID:      userID,
		Content:     req.Content,
		ScheduledAt: req.ScheduledAt,
		ContactIDs:  req.ContactIDs,
		GroupIDs:    req.GroupIDs,
	})
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}

	if msg.Status == model.MessageStatusDraft {
		if msg, err = h.svc.Send(ctx, msg.ID, userID); err != nil {
			writeError(ctx, xhttp.StatusBadRequest, err.Error())
			return
		}
	}

	writeJSON(ctx, xhttp.StatusCreated, msg)
}

func (h *MessageHandler) CancelMessage(ctx *xhttp.RequestCtx, userID int64) {
	id, err := pathID(ctx)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid message id")
		return
	}

	msg, err := h.svc.Cancel(ctx, id, userID)
	if err != nil {
		writePipelineError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, msg)
}

func (h *MessageHandler) GetMessage(ctx *xhttp.RequestCtx, userID int64) {
	id, err := pathID(ctx)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid message id")
		return
	}

	msg, err := h.svc.Get(ctx, id, userID)
	if err != nil {
		writePipelineError(ctx, err)
		return
	}
	recipients, agg, err := h.svc.Recipients(ctx, id, userID)
	if err != nil {
		writePipelineError(ctx, err)
		return
	}

	writeJSON(ctx, xhttp.StatusOK, messageDetailResponse{
		Message:    msg,
		Recipients: recipients,
		Aggregate:  agg,
	})
}

func (h *MessageHandler) ListMessages(ctx *xhttp.RequestCtx, userID int64) {
	var f model.MessageFilter

	if v := query(ctx, "status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				f.Statuses = append(f.Statuses, model.MessageStatus(part))
			}
		}
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.List(ctx, userID, f)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse{Items: items, Total: total})
}

/* -------------------------------- Helpers ----------------------------------- */

type authedHandler func(ctx *xhttp.RequestCtx, userID int64)

func (h *MessageHandler) withAuth(next authedHandler) func(ctx *xhttp.RequestCtx) {
	return func(ctx *xhttp.RequestCtx) {
		claims, ok := authenticate(ctx, h.authorizer)
		if !ok {
			return
		}
		next(ctx, claims.UserID)
	}
}

func authenticate(ctx *xhttp.RequestCtx, authorizer Authorizer) (*auth.Claims, bool) {
	token, ok := auth.FromHeader(string(ctx.Request.Header.Peek("Authorization")))
	if !ok {
		writeError(ctx, xhttp.StatusUnauthorized, "missing bearer token")
		return nil, false
	}
	claims, err := authorizer.Verify(token)
	if err != nil {
		writeError(ctx, xhttp.StatusUnauthorized, "invalid token")
		return nil, false
	}
	return claims, true
}

func writePipelineError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		writeError(ctx, xhttp.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrInvalidState):
		writeError(ctx, xhttp.StatusConflict, err.Error())
	default:
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
	}
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Error("response encoding failed", "error", err)
		ctx.Response.SetStatusCode(xhttp.StatusInternalServerError)
		return
	}
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func pathID(ctx *xhttp.RequestCtx) (int64, error) {
	v, _ := ctx.UserValue("id").(string)
	return strconv.ParseInt(v, 10, 64)
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339, v)
}
