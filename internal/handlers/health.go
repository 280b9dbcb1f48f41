package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"reverie/internal/database"
	"reverie/internal/services"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	redis *services.RedisService
	mongo *database.MongoDB // nil when no archive backend is configured
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(redis *services.RedisService, mongo *database.MongoDB) *HealthHandler {
	return &HealthHandler{redis: redis, mongo: mongo}
}

// Handle responds with backend health and ping latency.
// GET /health
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	status := fiber.StatusOK
	redisStatus := "ok"

	start := time.Now()
	if err := h.redis.Ping(ctx); err != nil {
		redisStatus = "unreachable"
		status = fiber.StatusServiceUnavailable
	}
	redisLatency := time.Since(start)

	body := fiber.Map{
		"status":           "healthy",
		"redis":            redisStatus,
		"redis_latency_ms": redisLatency.Milliseconds(),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	}

	if h.mongo != nil {
		mongoStatus := "ok"
		start = time.Now()
		if err := h.mongo.Ping(ctx); err != nil {
			mongoStatus = "unreachable"
			status = fiber.StatusServiceUnavailable
		}
		body["mongo"] = mongoStatus
		body["mongo_latency_ms"] = time.Since(start).Milliseconds()
	}

	if status != fiber.StatusOK {
		body["status"] = "degraded"
	}
	return c.Status(status).JSON(body)
}
