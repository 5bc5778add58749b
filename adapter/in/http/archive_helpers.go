package http

import (
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
)

// dateLayouts accepted for start/end query parameters.
var dateLayouts = []string{"2006-01-02", time.RFC3339}

// listParam returns the :name path parameter with URL escaping undone, so
// fully-qualified list addresses survive the path.
func listParam(c *fiber.Ctx) string {
	name, err := url.PathUnescape(c.Params("name"))
	if err != nil {
		return c.Params("name")
	}
	return name
}

// dateRange parses the start/end query parameters. Missing bounds widen to
// the whole archive.
func dateRange(c *fiber.Ctx) (start, end time.Time, err error) {
	start, err = dateParam(c, "start", time.Time{})
	if err != nil {
		return
	}
	end, err = dateParam(c, "end", time.Now().UTC().AddDate(0, 0, 1))
	return
}

func dateParam(c *fiber.Ctx, name string, fallback time.Time) (time.Time, error) {
	value := c.Query(name)
	if value == "" {
		return fallback, nil
	}
	var firstErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
