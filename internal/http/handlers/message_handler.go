// Message HTTP handlers.
//
//   - POST /messages                 (queue a delivery; 202)
//   - GET  /messages/{id}            (delivery status)
//   - GET  /bots/{id}/messages       (delivery history, paginated, ETag)
//   - GET  /bots/{id}/stats          (counts per status)
//
// Idempotency: with an Idempotency-Key header, a retry by the same user
// returns the first delivery with 200 and `Idempotency-Replayed: true`
// instead of queuing a second one.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bot-dispatch/internal/domain"
	"github.com/tbourn/bot-dispatch/internal/http/middleware"
	"github.com/tbourn/bot-dispatch/internal/services"
)

// SendMessageRequest queues Content for delivery through BotID. GuildID set
// means ChannelID is a channel in that guild; otherwise ChannelID is tried as
// a user (direct message) and then as a channel.
type SendMessageRequest struct {
	BotID     string `json:"botId"             example:"3f0e4d1e-6c1a-4f47-9d55-0b1a2c3d4e5f"`
	ChannelID string `json:"channelId"         example:"112233445566778899"`
	Content   string `json:"content"           example:"Deploy finished"`
	GuildID   string `json:"guildId,omitempty" example:"998877665544332211"`
}

// SendMessageResponse identifies the queued delivery.
type SendMessageResponse struct {
	ID     string                `json:"id"     example:"7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab"`
	Status domain.DeliveryStatus `json:"status" example:"QUEUED"`
}

// ListMessagesResponse is one page of a bot's deliveries.
type ListMessagesResponse struct {
	Messages   []domain.DeliveryRecord `json:"messages"`
	Pagination Pagination              `json:"pagination"`
}

// StatsResponse counts a bot's deliveries by status.
type StatsResponse struct {
	BotID  string                          `json:"bot_id"`
	Counts map[domain.DeliveryStatus]int64 `json:"counts"`
}

// SendMessage godoc
// @ID          sendMessage
// @Summary     Queue a message
// @Description Validates the request, records a QUEUED delivery and queues it for a worker.
// @Description The platform is never contacted synchronously.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       X-User-ID        header  string  true   "Caller id"
// @Param       X-User-Role      header  string  false  "Caller role"
// @Param       Idempotency-Key  header  string  false  "Key for safe retries"
// @Param       body             body    handlers.SendMessageRequest  true  "Message"
// @Success     202  {object}  handlers.SendMessageResponse  "Queued"
// @Success     200  {object}  handlers.SendMessageResponse  "Replay of an earlier request"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the bot owner"
// @Failure     404  {object}  handlers.ErrorResponse  "Bot not found"
// @Failure     503  {object}  handlers.ErrorResponse  "Queue unavailable"
// @Router      /messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	who, okCaller := caller(c)
	if !okCaller {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	res, err := h.dispatch.Enqueue(c.Request.Context(), who, services.EnqueueRequest{
		BotID:          req.BotID,
		ChannelID:      req.ChannelID,
		Content:        normalizeNewlines(req.Content),
		GuildID:        req.GuildID,
		IdempotencyKey: key,
	})
	if err != nil {
		failService(c, err)
		return
	}

	status := http.StatusAccepted
	if res.Replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
		status = http.StatusOK
	}
	c.Header("Location", strings.TrimSuffix(c.FullPath(), "/")+"/"+res.ID)
	ok(c, status, SendMessageResponse{ID: res.ID, Status: res.Status})
}

// GetMessage godoc
// @ID          getMessage
// @Summary     Delivery status
// @Tags        Messages
// @Produce     json
// @Param       X-User-ID  header  string  true  "Caller id"
// @Param       id         path    string  true  "Delivery ID"  format(uuid)
// @Success     200  {object}  domain.DeliveryRecord
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /messages/{id} [get]
func (h *Handlers) GetMessage(c *gin.Context) {
	who, okCaller := caller(c)
	if !okCaller {
		return
	}
	rec, err := h.dispatch.Get(c.Request.Context(), who, c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// ListMessages godoc
// @ID          listBotMessages
// @Summary     List a bot's deliveries
// @Description Newest first. Supports If-None-Match.
// @Tags        Messages
// @Produce     json
// @Param       X-User-ID  header  string  true   "Caller id"
// @Param       id         path    string  true   "Bot ID"  format(uuid)
// @Param       page       query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListMessagesResponse
// @Success     304  "Not modified"
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /bots/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	who, okCaller := caller(c)
	if !okCaller {
		return
	}
	ctx := c.Request.Context()
	botID := c.Param("id")
	page, pageSize := clampPagination(c)

	version, err := h.dispatch.Version(ctx, who, botID)
	if err != nil {
		failService(c, err)
		return
	}
	etag := `W/"deliveries:` + version + `"`
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}

	items, total, err := h.dispatch.ListByBot(ctx, who, botID, page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{Messages: items, Pagination: newPagination(page, pageSize, total)})
}

// BotStats godoc
// @ID          botStats
// @Summary     Delivery counts by status
// @Tags        Messages
// @Produce     json
// @Param       X-User-ID  header  string  true  "Caller id"
// @Param       id         path    string  true  "Bot ID"  format(uuid)
// @Success     200  {object}  handlers.StatsResponse
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /bots/{id}/stats [get]
func (h *Handlers) BotStats(c *gin.Context) {
	who, okCaller := caller(c)
	if !okCaller {
		return
	}
	botID := c.Param("id")
	counts, err := h.dispatch.Stats(c.Request.Context(), who, botID)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, StatsResponse{BotID: botID, Counts: counts})
}

// normalizeNewlines converts CRLF and lone CR to LF.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
