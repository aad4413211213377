// Package admin exposes the token adjustment API for dashboard operators.
//
// Every route requires an authenticated admin; the auth middleware answers
// 401 for missing credentials and 403 for non-admins before any handler
// here runs. Mutations go through the ledger service, never straight at
// the stores, so each adjustment lands in the audit trail.
package admin

import (
	"context"
	"log/slog"
	"time"

	"github.com/cadogy/token-service/internal/cache"
	"github.com/cadogy/token-service/internal/ledger"
	"github.com/cadogy/token-service/internal/user"
)

// nameCacheTTL bounds how stale a resolved display name may be.
const nameCacheTTL = 5 * time.Minute

// Handler serves the admin token endpoints.
type Handler struct {
	ledger *ledger.Service
	users  user.Store
	names  *cache.TTL[string, string]
	logger *slog.Logger
}

// NewHandler creates the admin HTTP handler.
func NewHandler(svc *ledger.Service, users user.Store, logger *slog.Logger) *Handler {
	return &Handler{
		ledger: svc,
		users:  users,
		names:  cache.New[string, string](nameCacheTTL),
		logger: logger,
	}
}

// resolveNames maps user ids to display names, batch-fetching only the ids
// the cache cannot answer. Unknown ids resolve to "" and are cached too,
// so a deleted-or-bogus actor id does not refetch on every page load.
func (h *Handler) resolveNames(ctx context.Context, ids []string) map[string]string {
	result := make(map[string]string, len(ids))
	var missing []string

	for _, id := range ids {
		if _, seen := result[id]; seen {
			continue
		}
		if name, ok := h.names.Get(id); ok {
			result[id] = name
		} else {
			result[id] = ""
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return result
	}

	fetched, err := h.users.GetBatch(ctx, missing)
	if err != nil {
		h.logger.Warn("display name batch fetch failed", "error", err)
		return result
	}
	for _, id := range missing {
		name := ""
		if u, ok := fetched[id]; ok {
			name = u.DisplayName
		}
		h.names.Set(id, name)
		result[id] = name
	}
	return result
}
