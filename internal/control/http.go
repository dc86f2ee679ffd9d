// Package control implements the REST surface spec.md §6 calls "the
// control surface consumed by the mediator": inject, setPersistentLimit,
// applySessionLimit, getConfig/setConfig, plus connected-clients
// introspection and metrics.
package control

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	dynconfig "github.com/eva-sean/oye-proxy/internal/config"
	"github.com/eva-sean/oye-proxy/internal/control/middleware"
	"github.com/eva-sean/oye-proxy/internal/mediator"
	"github.com/eva-sean/oye-proxy/internal/persistence"
	"github.com/eva-sean/oye-proxy/internal/registry"
	config "github.com/eva-sean/oye-proxy/internal/staticconfig"
)

// Handler wires the control surface's dependencies.
type Handler struct {
	registry *registry.Registry
	store    persistence.Store
	dynamic  *dynconfig.Store
	log      *zap.Logger
}

// NewApp builds the Fiber app for the control surface, with CORS, the
// circuit breaker, operator auth, and the shared error handler applied.
func NewApp(reg *registry.Registry, store persistence.Store, dynamic *dynconfig.Store, staticCfg config.Config, log *zap.Logger) *fiber.App {
	h := &Handler{registry: reg, store: store, dynamic: dynamic, log: log}

	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(log),
	})

	app.Use(middleware.NewCORS(staticCfg.CORS))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	api := app.Group("/api/v1", middleware.OperatorAuth(staticCfg.Operator, log))
	if staticCfg.CircuitBreaker.Enabled {
		api.Use(middleware.CircuitBreakerWithLogger(log))
	}

	devices := api.Group("/devices")
	devices.Get("/connected", h.getConnectedDevices)
	devices.Get("/:id/connection", h.getConnectionStatus)
	devices.Post("/:id/inject", h.inject)
	devices.Post("/:id/persistent-limit", h.setPersistentLimit)
	devices.Delete("/:id/persistent-limit", h.clearPersistentLimit)
	devices.Post("/:id/session-limit", h.applySessionLimit)

	api.Get("/config", h.getConfig)
	api.Post("/config", h.setConfig)

	return app
}

func (h *Handler) session(c *fiber.Ctx) (*mediator.Session, string, error) {
	id := c.Params("id")
	s := h.registry.Lookup(id)
	if s == nil {
		return nil, id, mediator.ErrChargerNotConnected
	}
	return s, id, nil
}

type injectRequest struct {
	Action  string      `json:"action"`
	Payload interface{} `json:"payload"`
}

// inject implements spec §6's "inject" operation.
func (h *Handler) inject(c *fiber.Ctx) error {
	var req injectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Action == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "action is required"})
	}

	session, id, err := h.session(c)
	if err != nil {
		return respondMediatorError(c, id, err)
	}

	messageID, err := session.Inject(req.Action, req.Payload)
	if err != nil {
		return respondMediatorError(c, id, err)
	}
	return c.JSON(fiber.Map{"messageId": messageID})
}

type persistentLimitRequest struct {
	Amperes *float64 `json:"amperes"`
}

// setPersistentLimit implements spec §6's "setPersistentLimit" operation.
func (h *Handler) setPersistentLimit(c *fiber.Ctx) error {
	var req persistentLimitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Amperes == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amperes is required"})
	}

	session, id, err := h.session(c)
	if err != nil {
		return respondMediatorError(c, id, err)
	}
	if err := session.SetPersistentLimit(req.Amperes); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *Handler) clearPersistentLimit(c *fiber.Ctx) error {
	session, id, err := h.session(c)
	if err != nil {
		return respondMediatorError(c, id, err)
	}
	if err := session.SetPersistentLimit(nil); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusOK)
}

type sessionLimitRequest struct {
	Amperes       float64 `json:"amperes"`
	TransactionID *int    `json:"transactionId,omitempty"`
}

// applySessionLimit implements spec §6's "applySessionLimit" operation.
func (h *Handler) applySessionLimit(c *fiber.Ctx) error {
	var req sessionLimitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	session, id, err := h.session(c)
	if err != nil {
		return respondMediatorError(c, id, err)
	}
	messageID, err := session.ApplySessionLimit(req.Amperes, req.TransactionID)
	if err != nil {
		return respondMediatorError(c, id, err)
	}
	return c.JSON(fiber.Map{"messageId": messageID})
}

// getConfig/setConfig implement spec §6's "getConfig / setConfig"
// operation over the recognized keys in spec §3.
func (h *Handler) getConfig(c *fiber.Ctx) error {
	return c.JSON(h.dynamic.Get().AsMap())
}

func (h *Handler) setConfig(c *fiber.Ctx) error {
	var values map[string]string
	if err := c.BodyParser(&values); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	next, err := dynconfig.FromMap(h.dynamic.Get(), values)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	ctx := c.Context()
	if err := h.store.SetConfig(ctx, values); err != nil {
		h.log.Error("failed to persist config", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to persist configuration"})
	}

	h.dynamic.Swap(next)
	return c.JSON(next.AsMap())
}

// getConnectedDevices / getConnectionStatus are the supplemented
// introspection endpoints (SPEC_FULL "SUPPLEMENTED FEATURES").
func (h *Handler) getConnectedDevices(c *fiber.Ctx) error {
	sessions := h.registry.Snapshot()
	ids := make([]fiber.Map, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, fiber.Map{
			"chargePointId": s.ChargePointID,
			"upstreamState": s.State().String(),
		})
	}
	return c.JSON(fiber.Map{"count": len(ids), "devices": ids})
}

func (h *Handler) getConnectionStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	session := h.registry.Lookup(id)
	if session == nil {
		return c.JSON(fiber.Map{"chargePointId": id, "connected": false})
	}
	return c.JSON(fiber.Map{
		"chargePointId": id,
		"connected":     true,
		"upstreamState": session.State().String(),
	})
}

func respondMediatorError(c *fiber.Ctx, id string, err error) error {
	if errors.Is(err, mediator.ErrChargerNotConnected) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":         "charger not connected",
			"chargePointId": id,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}
