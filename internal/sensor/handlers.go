package sensor

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// Feeds maps the ingest path segment (step, location, activity, accelerometer) to its feed.
type Feeds map[string]*Feed

type Reading struct {
	At         time.Time  `json:"at"`
	Steps      *int64     `json:"steps" validate:"omitempty,gte=0"`
	Locations  []Location `json:"locations" validate:"omitempty,dive"`
	Activity   string     `json:"activity" validate:"omitempty,max=64"`
	Confidence int        `json:"confidence" validate:"gte=0,lte=100"`
	X          float64    `json:"x"`
	Y          float64    `json:"y"`
	Z          float64    `json:"z"`
}

var validate = validator.New()

func (r Reading) toEvent(kind string) (Event, bool) {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	switch kind {
	case "step":
		if r.Steps == nil {
			return Event{}, false
		}
		return Event{Kind: StepCountUpdate, At: at, Steps: *r.Steps}, true
	case "location":
		if len(r.Locations) == 0 {
			return Event{}, false
		}
		return Event{Kind: LocationUpdate, At: at, Locations: r.Locations}, true
	case "activity":
		if r.Activity == "" {
			return Event{}, false
		}
		return Event{Kind: ActivityStateChange, At: at, Activity: r.Activity, Confidence: r.Confidence}, true
	case "accelerometer":
		return Event{Kind: AccelerometerUpdate, At: at, Accel: [3]float64{r.X, r.Y, r.Z}}, true
	}
	return Event{}, false
}

// RegisterRoutes exposes POST /:kind so the platform bridge can push readings.
func RegisterRoutes(r fiber.Router, feeds Feeds, authMiddleware fiber.Handler) {
	r.Post("/:kind", authMiddleware, func(c *fiber.Ctx) error {
		kind := c.Params("kind")
		feed, ok := feeds[kind]
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "unknown sensor "+kind)
		}
		var req Reading
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		ev, ok := req.toEvent(kind)
		if !ok {
			return fiber.NewError(fiber.StatusBadRequest, "reading has no "+kind+" payload")
		}
		if !feed.Emit(ev) {
			return fiber.NewError(fiber.StatusConflict, kind+" sensor is not running")
		}
		return c.SendStatus(fiber.StatusAccepted)
	})
}
