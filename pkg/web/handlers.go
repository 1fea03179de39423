package web

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/philiaspaceai/philia-ohanashi/pkg/persona"
	"github.com/philiaspaceai/philia-ohanashi/pkg/session"
)

func (s *Server) handleListPersonas(c *fiber.Ctx) error {
	return c.JSON(s.personas.List())
}

func (s *Server) handleSavePersona(c *fiber.Ctx) error {
	if s.editor == nil {
		return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{
			"error": "persona store is read-only",
		})
	}

	var p persona.Persona
	if err := c.BodyParser(&p); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid persona payload",
		})
	}
	if p.Name == "" || p.Nickname == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "persona needs a name and nickname",
		})
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
		p.CreatedAt = time.Now()
	}

	if err := s.editor.Save(p); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(p)
}

func (s *Server) handleDeletePersona(c *fiber.Ctx) error {
	if s.editor == nil {
		return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{
			"error": "persona store is read-only",
		})
	}
	if err := s.editor.Delete(c.Params("id")); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type startRequest struct {
	PersonaID string `json:"personaId"`
}

func (s *Server) handleSessionStart(c *fiber.Ctx) error {
	var req startRequest
	if err := c.BodyParser(&req); err != nil || req.PersonaID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "personaId is required",
		})
	}

	if err := s.mgr.Start(req.PersonaID); err != nil {
		return c.Status(sessionErrorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(s.mgr.Status())
}

func (s *Server) handleSessionEndTurn(c *fiber.Ctx) error {
	if err := s.mgr.EndTurn(); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(s.mgr.Status())
}

func (s *Server) handleSessionStop(c *fiber.Ctx) error {
	if err := s.mgr.Stop(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(s.mgr.Status())
}

func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(s.mgr.Status())
}

// handleDiagnostics serves the session log as a downloadable text file,
// same shape as the in-app "save diagnostics" export.
func (s *Server) handleDiagnostics(c *fiber.Ctx) error {
	report := s.mgr.ExportDiagnostics()
	if report == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no session diagnostics recorded",
		})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	c.Set(fiber.HeaderContentDisposition,
		`attachment; filename="ohanashi-diagnostics-`+time.Now().Format("20060102-150405")+`.txt"`)
	return c.SendString(report)
}

// sessionErrorStatus maps session error types to HTTP statuses.
func sessionErrorStatus(err error) int {
	var cfgErr *session.ConfigError
	if errors.As(err, &cfgErr) {
		return fiber.StatusBadRequest
	}
	var devErr *session.DeviceError
	if errors.As(err, &devErr) {
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}
