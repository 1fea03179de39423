// Package web exposes the local control surface: a small HTTP API to
// start, steer, and stop voice sessions, plus a websocket status feed
// for the dashboard.
package web

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/philiaspaceai/philia-ohanashi/internal/log"
	"github.com/philiaspaceai/philia-ohanashi/pkg/hub"
	"github.com/philiaspaceai/philia-ohanashi/pkg/persona"
	"github.com/philiaspaceai/philia-ohanashi/pkg/session"
)

// statusInterval paces the websocket status feed.
const statusInterval = 500 * time.Millisecond

// Server hosts the control API for one session manager.
type Server struct {
	app  *fiber.App
	port string

	mgr      *session.Manager
	personas persona.Store
	editor   persona.Editor // nil when the store is read-only

	statusHub *hub.Hub

	stop     chan struct{}
	stopOnce sync.Once
}

// NewServer wires the routes. The editor may be nil; persona mutation
// endpoints then report 405.
func NewServer(port string, mgr *session.Manager, store persona.Store, editor persona.Editor) *Server {
	s := &Server{
		port:      port,
		mgr:       mgr,
		personas:  store,
		editor:    editor,
		statusHub: hub.New("status"),
		stop:      make(chan struct{}),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Ohanashi Control",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/personas", s.handleListPersonas)
	api.Post("/personas", s.handleSavePersona)
	api.Delete("/personas/:id", s.handleDeletePersona)

	api.Post("/session/start", s.handleSessionStart)
	api.Post("/session/end-turn", s.handleSessionEndTurn)
	api.Post("/session/stop", s.handleSessionStop)
	api.Get("/state", s.handleState)
	api.Get("/diagnostics", s.handleDiagnostics)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// Start serves the control API. It blocks; use StartAsync from main.
func (s *Server) Start() error {
	go s.statusHub.Run()
	go s.statusLoop()

	log.Info("control surface listening", "port", s.port)
	return s.app.Listen(":" + s.port)
}

// StartAsync serves in the background.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			log.Error("control surface failed", "err", err)
		}
	}()
}

// Shutdown stops the server and the status feed.
func (s *Server) Shutdown() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.statusHub.Stop()
	return s.app.Shutdown()
}

// statusLoop pushes the session snapshot to dashboard clients.
func (s *Server) statusLoop() {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if s.statusHub.ClientCount() == 0 {
				continue
			}
			if err := s.statusHub.BroadcastJSON(s.mgr.Status()); err != nil {
				log.Warn("status broadcast failed", "err", err)
			}
		}
	}
}

// handleStatusWS attaches one dashboard client to the status feed.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	// First frame is the current snapshot, before the ticker catches up.
	_ = c.WriteJSON(s.mgr.Status())
	hub.NewClient(s.statusHub, c).Run()
}
