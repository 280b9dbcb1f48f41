package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"reverie/internal/services"
)

const storeOpTimeout = 10 * time.Second

// ProfileHandler serves the per-user memory endpoints: profile,
// summaries, stats, export, and erase.
type ProfileHandler struct {
	store   *services.MemoryService
	archive *services.ArchiveService // nil when no archive backend is configured
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(store *services.MemoryService, archive *services.ArchiveService) *ProfileHandler {
	return &ProfileHandler{store: store, archive: archive}
}

// GetProfile returns a user's long-term profile.
// GET /api/v1/users/:id/profile
func (h *ProfileHandler) GetProfile(c *fiber.Ctx) error {
	userID := c.Params("id")
	if err := services.ValidateUserID(userID); err != nil {
		return respondError(c, err)
	}
	if !actingOnOwnData(c, userID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Token does not match user_id"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), storeOpTimeout)
	defer cancel()

	profile, err := h.store.GetProfile(ctx, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profile)
}

// GetSummaries returns a user's retained summaries, newest first.
// GET /api/v1/users/:id/summaries?limit=
func (h *ProfileHandler) GetSummaries(c *fiber.Ctx) error {
	userID := c.Params("id")
	if err := services.ValidateUserID(userID); err != nil {
		return respondError(c, err)
	}
	if !actingOnOwnData(c, userID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Token does not match user_id"})
	}

	limit, _ := strconv.Atoi(c.Query("limit", "0"))
	if limit < 0 {
		limit = 0
	}

	ctx, cancel := context.WithTimeout(c.Context(), storeOpTimeout)
	defer cancel()

	summaries, err := h.store.ListSummaries(ctx, userID, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"user_id":   userID,
		"summaries": summaries,
	})
}

// GetStats returns the per-user memory footprint.
// GET /api/v1/users/:id/stats
func (h *ProfileHandler) GetStats(c *fiber.Ctx) error {
	userID := c.Params("id")
	if err := services.ValidateUserID(userID); err != nil {
		return respondError(c, err)
	}
	if !actingOnOwnData(c, userID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Token does not match user_id"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), storeOpTimeout)
	defer cancel()

	stats, err := h.store.Stats(ctx, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

// Export returns everything stored about a user, including archived
// summaries when the archive is configured.
// GET /api/v1/users/:id/export
func (h *ProfileHandler) Export(c *fiber.Ctx) error {
	userID := c.Params("id")
	if err := services.ValidateUserID(userID); err != nil {
		return respondError(c, err)
	}
	if !actingOnOwnData(c, userID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Token does not match user_id"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
	defer cancel()

	export, err := h.store.Export(ctx, userID)
	if err != nil {
		return respondError(c, err)
	}

	if h.archive != nil {
		archived, err := h.archive.ListArchived(ctx, userID, 0)
		if err != nil {
			// Export what the live store has rather than failing the
			// whole request over the archive.
			logrus.Warnf("⚠️ [EXPORT] Archive read failed for user %s: %v", userID, err)
		} else {
			export.ArchivedSummaries = archived
		}
	}

	logrus.Infof("📤 [EXPORT] Exported memory for user %s (%d sessions, %d summaries)",
		userID, len(export.Sessions), len(export.Summaries))
	return c.JSON(export)
}

// Erase deletes every memory tier for a user, plus the archive, and
// returns the removal counts.
// DELETE /api/v1/users/:id/memory
func (h *ProfileHandler) Erase(c *fiber.Ctx) error {
	userID := c.Params("id")
	if err := services.ValidateUserID(userID); err != nil {
		return respondError(c, err)
	}
	if !actingOnOwnData(c, userID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Token does not match user_id"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
	defer cancel()

	deletedKeys, err := h.store.DeleteUserData(ctx, userID)
	if err != nil {
		return respondError(c, err)
	}

	var archivedDeleted int64
	if h.archive != nil {
		archivedDeleted, err = h.archive.DeleteUser(ctx, userID)
		if err != nil {
			logrus.Errorf("❌ [ERASE] Archive delete failed for user %s: %v", userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Live memory erased but archive deletion failed; retry to finish",
			})
		}
	}

	return c.JSON(fiber.Map{
		"user_id":          userID,
		"deleted_keys":     deletedKeys,
		"archived_deleted": archivedDeleted,
	})
}
