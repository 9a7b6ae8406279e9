// SPDX-License-Identifier: MIT
package server

import (
	"locator/internal/level"
	applog "locator/internal/log"
	"locator/internal/tdoa"
	"slices"
	"time"

	"github.com/gofiber/fiber/v2"
)

// loggingMiddleware logs API requests at debug level. Polled endpoints are
// skipped.
func loggingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := c.Path()
		if path == "/metrics" || path == "/health" || !applog.Enabled(applog.LevelDebug) {
			return err
		}
		applog.Debugf("Server: %s %s %d (%s)", c.Method(), path, c.Response().StatusCode(), time.Since(start))
		return err
	}
}

func sortedSources(m map[tdoa.SourceID]level.State) []tdoa.SourceID {
	ids := make([]tdoa.SourceID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
