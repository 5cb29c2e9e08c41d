// Bot HTTP handlers.
//
//   - POST   /bots       (register a bot token)
//   - GET    /bots       (list, paginated)
//   - GET    /bots/{id}
//   - DELETE /bots/{id}  (also drops any live session on the workers)
//
// The token is accepted once and never returned.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bot-dispatch/internal/domain"
)

// CreateBotRequest registers a bot.
type CreateBotRequest struct {
	Name  string `json:"name"  binding:"required" example:"alerts-bot"`
	Token string `json:"token" binding:"required" example:"MTE4...redacted"`
}

// ListBotsResponse is one page of bots.
type ListBotsResponse struct {
	Bots       []domain.Bot `json:"bots"`
	Pagination Pagination   `json:"pagination"`
}

// CreateBot godoc
// @ID          createBot
// @Summary     Register a bot
// @Description Stores the bot token encrypted at rest. The token is never returned.
// @Tags        Bots
// @Accept      json
// @Produce     json
// @Param       X-User-ID    header  string  true   "Caller id"
// @Param       X-User-Role  header  string  false  "Caller role (ADMIN or USER)"
// @Param       body         body    handlers.CreateBotRequest  true  "Bot"
// @Success     201  {object}  domain.Bot
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     503  {object}  handlers.ErrorResponse  "Encryption key not configured"
// @Router      /bots [post]
func (h *Handlers) CreateBot(c *gin.Context) {
	who, okCaller := caller(c)
	if !okCaller {
		return
	}
	var req CreateBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name and token are required")
		return
	}
	bot, err := h.bots.Create(c.Request.Context(), who, req.Name, req.Token)
	if err != nil {
		failService(c, err)
		return
	}
	c.Header("Location", c.FullPath()+"/"+bot.ID)
	ok(c, http.StatusCreated, bot)
}

// ListBots godoc
// @ID          listBots
// @Summary     List bots
// @Description Owners see their bots; admins see all.
// @Tags        Bots
// @Produce     json
// @Param       X-User-ID    header  string  true   "Caller id"
// @Param       X-User-Role  header  string  false  "Caller role"
// @Param       page         query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size    query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListBotsResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /bots [get]
func (h *Handlers) ListBots(c *gin.Context) {
	who, okCaller := caller(c)
	if !okCaller {
		return
	}
	page, pageSize := clampPagination(c)
	bots, total, err := h.bots.List(c.Request.Context(), who, page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListBotsResponse{Bots: bots, Pagination: newPagination(page, pageSize, total)})
}

// GetBot godoc
// @ID          getBot
// @Summary     Get a bot
// @Tags        Bots
// @Produce     json
// @Param       X-User-ID  header  string  true  "Caller id"
// @Param       id         path    string  true  "Bot ID"  format(uuid)
// @Success     200  {object}  domain.Bot
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /bots/{id} [get]
func (h *Handlers) GetBot(c *gin.Context) {
	who, okCaller := caller(c)
	if !okCaller {
		return
	}
	bot, err := h.bots.Get(c.Request.Context(), who, c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, bot)
}

// DeleteBot godoc
// @ID          deleteBot
// @Summary     Delete a bot
// @Description Removes the bot and closes its cached session on every worker. Delivery history is kept.
// @Tags        Bots
// @Param       X-User-ID  header  string  true  "Caller id"
// @Param       id         path    string  true  "Bot ID"  format(uuid)
// @Success     204
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /bots/{id} [delete]
func (h *Handlers) DeleteBot(c *gin.Context) {
	who, okCaller := caller(c)
	if !okCaller {
		return
	}
	if err := h.bots.Delete(c.Request.Context(), who, c.Param("id")); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}
