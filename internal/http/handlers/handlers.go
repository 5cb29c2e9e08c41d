package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bot-dispatch/internal/domain"
	"github.com/tbourn/bot-dispatch/internal/http/middleware"
	"github.com/tbourn/bot-dispatch/internal/services"
	"github.com/tbourn/bot-dispatch/internal/utils"
)

// BotService is the bot registry consumed by the bot endpoints.
type BotService interface {
	Create(ctx context.Context, caller services.Caller, name, token string) (*domain.Bot, error)
	Get(ctx context.Context, caller services.Caller, id string) (*domain.Bot, error)
	List(ctx context.Context, caller services.Caller, page, pageSize int) ([]domain.Bot, int64, error)
	Delete(ctx context.Context, caller services.Caller, id string) error
}

// DispatchService is the producer consumed by the message endpoints.
type DispatchService interface {
	Enqueue(ctx context.Context, caller services.Caller, req services.EnqueueRequest) (*services.EnqueueResult, error)
	Get(ctx context.Context, caller services.Caller, id string) (*domain.DeliveryRecord, error)
	ListByBot(ctx context.Context, caller services.Caller, botID string, page, pageSize int) ([]domain.DeliveryRecord, int64, error)
	Stats(ctx context.Context, caller services.Caller, botID string) (map[domain.DeliveryStatus]int64, error)
	Version(ctx context.Context, caller services.Caller, botID string) (string, error)
}

// Handlers groups the API endpoints.
type Handlers struct {
	bots     BotService
	dispatch DispatchService
}

// New binds the handlers to their services.
func New(bots BotService, dispatch DispatchService) *Handlers {
	return &Handlers{bots: bots, dispatch: dispatch}
}

// caller builds the services identity from what middleware.Identity stored.
// It aborts with 401 and returns false when the request is anonymous.
func caller(c *gin.Context) (services.Caller, bool) {
	id := middleware.UserID(c)
	if id == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing "+middleware.HeaderUserID)
		return services.Caller{}, false
	}
	return services.Caller{ID: id, Role: middleware.UserRole(c)}, true
}

// Pagination is the metadata attached to list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	pages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
	}
}

// clampPagination reads page and page_size from the query string.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.NormalizePage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), utils.DefaultPageSize),
	)
}
