package walking

import (
	"errors"
	"os"
	"path/filepath"

	"backend-walklog/internal/session"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type emotionRequest struct {
	Emotion string `json:"emotion" form:"emotion" validate:"required,oneof=HAPPY JOYFUL CONTENT DEPRESSED TIRED IRRITATED"`
}

type noteRequest struct {
	Note string `form:"note" validate:"max=2000"`
}

var validate = validator.New()

// RegisterRoutes exposes the machine's commands under the given router.
// uploadDir holds multipart images until the machine has copied them.
func RegisterRoutes(r fiber.Router, m *Machine, uploadDir string, authMiddleware fiber.Handler) {
	r.Get("/state", authMiddleware, func(c *fiber.Ctx) error {
		s, err := m.State(c.UserContext())
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(s)
	})

	r.Get("/session", authMiddleware, func(c *fiber.Ctx) error {
		s, err := m.Session(c.UserContext())
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(s)
	})

	r.Post("/start", authMiddleware, func(c *fiber.Ctx) error {
		var req emotionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := m.StartWalking(c.UserContext(), session.Emotion(req.Emotion)); err != nil {
			return toHTTPError(err)
		}
		return stateResponse(c, m, fiber.StatusCreated)
	})

	r.Post("/pause", authMiddleware, func(c *fiber.Ctx) error {
		if err := m.PauseWalking(c.UserContext()); err != nil {
			return toHTTPError(err)
		}
		return stateResponse(c, m, fiber.StatusOK)
	})

	r.Post("/resume", authMiddleware, func(c *fiber.Ctx) error {
		if err := m.ResumeWalking(c.UserContext()); err != nil {
			return toHTTPError(err)
		}
		return stateResponse(c, m, fiber.StatusOK)
	})

	r.Post("/stop", authMiddleware, func(c *fiber.Ctx) error {
		if err := m.StopWalking(c.UserContext()); err != nil {
			return toHTTPError(err)
		}
		s, err := m.Session(c.UserContext())
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(s)
	})

	r.Post("/cancel", authMiddleware, func(c *fiber.Ctx) error {
		if err := m.CancelWalking(c.UserContext()); err != nil {
			return toHTTPError(err)
		}
		return stateResponse(c, m, fiber.StatusOK)
	})

	r.Post("/emotion", authMiddleware, func(c *fiber.Ctx) error {
		var req emotionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := m.UpdatePostWalkEmotion(c.UserContext(), session.Emotion(req.Emotion)); err != nil {
			return toHTTPError(err)
		}
		return stateResponse(c, m, fiber.StatusOK)
	})

	r.Post("/note", authMiddleware, func(c *fiber.Ctx) error {
		var req noteRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		imageSrc := ""
		if file, err := c.FormFile("image"); err == nil {
			if err := os.MkdirAll(uploadDir, 0o755); err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, err.Error())
			}
			imageSrc = filepath.Join(uploadDir, uuid.NewString()+filepath.Ext(file.Filename))
			if err := c.SaveFile(file, imageSrc); err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, err.Error())
			}
			defer os.Remove(imageSrc)
		}

		if err := m.UpdateNoteAndImage(c.UserContext(), req.Note, imageSrc); err != nil {
			return toHTTPError(err)
		}
		s, err := m.Session(c.UserContext())
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(s)
	})
}

func stateResponse(c *fiber.Ctx, m *Machine, status int) error {
	s, err := m.State(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(status).JSON(s)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidPrecondition):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNoSession), errors.Is(err, session.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrClosed):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
