package control

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/eva-sean/oye-proxy/internal/broadcast"
	"github.com/eva-sean/oye-proxy/internal/persistence"
)

const tailSendBuffer = 256

// RegisterDashboardTail mounts the live-tail endpoint the browser
// dashboard (spec §2's "external collaborator") uses to watch a single
// charger's message log as it happens, fed by broadcast.Publisher
// rather than by polling AppendLog's backing store.
func RegisterDashboardTail(app *fiber.App, publisher broadcast.Publisher, auth fiber.Handler, log *zap.Logger) {
	app.Use("/api/v1/devices/:id/tail", auth, func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			c.Locals("chargePointId", c.Params("id"))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/api/v1/devices/:id/tail", fiberws.New(func(conn *fiberws.Conn) {
		id, _ := conn.Locals("chargePointId").(string)
		send := make(chan persistence.LogRecord, tailSendBuffer)

		unsubscribe, err := publisher.Subscribe(id, func(rec persistence.LogRecord) {
			select {
			case send <- rec:
			default:
				// Slow dashboard reader; drop rather than stall the fan-out.
			}
		})
		if err != nil {
			log.Warn("failed to subscribe live-tail", zap.String("chargePointId", id), zap.Error(err))
			conn.Close()
			return
		}
		defer unsubscribe()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case rec := <-send:
				data, err := json.Marshal(rec)
				if err != nil {
					continue
				}
				if err := conn.WriteMessage(fiberws.TextMessage, data); err != nil {
					return
				}
			case <-done:
				return
			case <-time.After(30 * time.Second):
				if err := conn.WriteMessage(fiberws.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}))
}
