package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/birdnet-display/internal/cache"
	"github.com/i474232898/birdnet-display/internal/orchestrator"
	"github.com/i474232898/birdnet-display/internal/species"
	"github.com/i474232898/birdnet-display/internal/store"
)

var validate = validator.New()

// RunStore is the run history read by the status endpoints.
type RunStore interface {
	Latest() (*orchestrator.Report, error)
	Range(from, to time.Time) ([]*orchestrator.Report, error)
}

// SpeciesList is the saved species list.
type SpeciesList interface {
	Load() (species.Set, error)
}

// CacheChecker diffs a species list against the image cache.
type CacheChecker interface {
	Root() string
	Target() int
	Check(species []string) ([]string, cache.Manifest, error)
}

// Handlers holds what the status API reads from.
type Handlers struct {
	Runs    RunStore
	Species SpeciesList
	Cache   CacheChecker
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, h Handlers) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "location-manager",
		})
	})

	v1 := app.Group("/api/v1")

	v1.Get("/runs/latest", func(c *fiber.Ctx) error {
		rep, err := h.Runs.Latest()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no run has completed yet")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read run history")
		}
		return c.JSON(rep)
	})

	v1.Get("/runs", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		reports, err := h.Runs.Range(req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no runs in requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read run history")
		}

		return c.JSON(fiber.Map{
			"from": req.From,
			"to":   req.To,
			"runs": reports,
		})
	})

	v1.Get("/cache", func(c *fiber.Ctx) error {
		list, err := h.Species.Load()
		if err != nil && !errors.Is(err, species.ErrNoList) {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read species list")
		}

		missing, m, err := h.Cache.Check(list)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to scan image cache")
		}
		if missing == nil {
			missing = []string{}
		}

		images := 0
		for _, e := range m {
			images += e.Count()
		}
		return c.JSON(fiber.Map{
			"root":             h.Cache.Root(),
			"imagesPerSpecies": h.Cache.Target(),
			"species":          len(list),
			"cachedSpecies":    len(m),
			"completeSpecies":  m.CompleteCount(h.Cache.Target()),
			"images":           images,
			"missing":          missing,
		})
	})
}

// rangeQuery holds query parameters for the run history endpoint.
type rangeQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (r *rangeQuery) bind(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	r.From = from
	r.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
