package session

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

func RegisterRoutes(r fiber.Router, repo *Repository, syncer *Syncer, authMiddleware fiber.Handler) {
	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		sessions, err := repo.List(c.Context(), c.QueryInt("limit", 50))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if sessions == nil {
			sessions = []WalkingSession{}
		}
		return c.JSON(sessions)
	})

	r.Get("/:id", authMiddleware, func(c *fiber.Ctx) error {
		s, err := repo.Get(c.Context(), c.Params("id"))
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(s)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		if syncer.InFlight(c.Params("id")) {
			return fiber.NewError(fiber.StatusConflict, ErrAlreadySyncing.Error())
		}
		if err := repo.Delete(c.Context(), c.Params("id")); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/:id/sync", authMiddleware, func(c *fiber.Ctx) error {
		id := utils.CopyString(c.Params("id"))
		err := syncer.SyncSession(c.UserContext(), id)
		switch {
		case err == nil:
			return c.JSON(fiber.Map{"id": id, "synced": true})
		case errors.Is(err, ErrNotFound):
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		case errors.Is(err, ErrAlreadySyncing):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		case errors.Is(err, ErrServerRejected):
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ErrNetworkFailure):
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		default:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
	})
}
