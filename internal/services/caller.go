package services

import (
	"strings"

	"github.com/tbourn/bot-dispatch/internal/domain"
)

// Caller is the authenticated principal making a request, as provided by the
// upstream auth layer.
type Caller struct {
	ID   string
	Role string
}

// Elevated reports whether the caller may act on any bot.
func (c Caller) Elevated() bool { return strings.EqualFold(c.Role, domain.RoleAdmin) }

// CanManage reports whether the caller may act on a bot owned by ownerID.
func (c Caller) CanManage(ownerID string) bool {
	return c.Elevated() || (c.ID != "" && c.ID == ownerID)
}
