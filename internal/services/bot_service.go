// Package services – BotService
//
// BotService registers bots with their platform tokens sealed by the
// credential cipher, and exposes owner- or admin-scoped reads and deletes.
// Tokens are never returned once stored.
package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/bot-dispatch/internal/credential"
	"github.com/tbourn/bot-dispatch/internal/domain"
	"github.com/tbourn/bot-dispatch/internal/repo"
	"github.com/tbourn/bot-dispatch/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SessionEvicter drops a cached platform session for a bot.
type SessionEvicter interface {
	Evict(ctx context.Context, botID string) error
}

// BotService manages bot registrations.
type BotService struct {
	DB     *gorm.DB
	Cipher *credential.Cipher
	// Evicter, when set, is told about deleted bots so workers drop their
	// sessions.
	Evicter      SessionEvicter
	MaxNameRunes int
	Logger       zerolog.Logger
}

func (s *BotService) tracer() trace.Tracer { return otel.Tracer("services/BotService") }

// Create seals token and stores a new bot owned by the caller.
func (s *BotService) Create(ctx context.Context, caller Caller, name, token string) (*domain.Bot, error) {
	ctx, span := s.tracer().Start(ctx, "Create", trace.WithAttributes(attribute.String("user.id", caller.ID)))
	defer span.End()

	name = normalizeName(name)
	token = strings.TrimSpace(token)
	if name == "" {
		return nil, required("name")
	}
	if token == "" {
		return nil, required("token")
	}
	if s.MaxNameRunes > 0 && utf8.RuneCountInString(name) > s.MaxNameRunes {
		return nil, &ValidationError{Field: "name", Reason: "is too long"}
	}
	if s.Cipher == nil {
		return nil, credential.ErrMissingKey
	}

	sealed, err := s.Cipher.Encrypt(token)
	if err != nil {
		return nil, err
	}
	bot, err := repo.CreateBot(ctx, s.DB, caller.ID, name, sealed)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("bot.id", bot.ID))

	actor := caller.ID
	if err := repo.AppendAudit(ctx, s.DB, &actor, &bot.ID, domain.ActionBotCreated, map[string]any{"name": bot.Name}); err != nil {
		s.Logger.Warn().Err(err).Str("bot_id", bot.ID).Msg("audit BOT_CREATED failed")
	}
	s.Logger.Info().Str("bot_id", bot.ID).Str("owner_id", caller.ID).Msg("bot created")
	return bot, nil
}

// Get returns a bot the caller owns (or any bot for elevated callers).
func (s *BotService) Get(ctx context.Context, caller Caller, id string) (*domain.Bot, error) {
	ctx, span := s.tracer().Start(ctx, "Get", trace.WithAttributes(attribute.String("bot.id", id)))
	defer span.End()
	return authorizeBot(ctx, s.DB, caller, id)
}

// List returns a page of bots visible to the caller.
func (s *BotService) List(ctx context.Context, caller Caller, page, pageSize int) ([]domain.Bot, int64, error) {
	ctx, span := s.tracer().Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("user.id", caller.ID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	owner := caller.ID
	if caller.Elevated() {
		owner = ""
	}
	page, pageSize = utils.NormalizePage(page, pageSize)
	total, err := repo.CountBots(ctx, s.DB, owner)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Bot{}, 0, nil
	}
	items, err := repo.ListBots(ctx, s.DB, owner, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// Delete removes a bot, audits it and asks workers to drop its session.
// Delivery records are kept for history.
func (s *BotService) Delete(ctx context.Context, caller Caller, id string) error {
	ctx, span := s.tracer().Start(ctx, "Delete", trace.WithAttributes(attribute.String("bot.id", id)))
	defer span.End()

	bot, err := authorizeBot(ctx, s.DB, caller, id)
	if err != nil {
		return err
	}

	actor := caller.ID
	if err := repo.AppendAudit(ctx, s.DB, &actor, &bot.ID, domain.ActionBotDeleted, map[string]any{"name": bot.Name}); err != nil {
		s.Logger.Warn().Err(err).Str("bot_id", bot.ID).Msg("audit BOT_DELETED failed")
	}
	if err := repo.DeleteBot(ctx, s.DB, bot.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrBotNotFound
		}
		return err
	}
	if s.Evicter != nil {
		if err := s.Evicter.Evict(ctx, bot.ID); err != nil {
			s.Logger.Warn().Err(err).Str("bot_id", bot.ID).Msg("session eviction notice failed")
		}
	}
	s.Logger.Info().Str("bot_id", bot.ID).Msg("bot deleted")
	return nil
}

// normalizeName trims and NFC-normalizes a display name so visually equal
// names are stored identically.
func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
