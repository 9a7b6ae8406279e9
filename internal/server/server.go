// SPDX-License-Identifier: MIT
//
// Package server exposes the engine's latest results over HTTP.
package server

import (
	"context"
	"fmt"
	"locator/internal/level"
	applog "locator/internal/log"
	"locator/internal/tdoa"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Engine is the part of tdoa.Engine the API reads and controls.
type Engine interface {
	Snapshot() *tdoa.Snapshot
	Pairs() []tdoa.Pair
	Sources() []tdoa.SourceID
	State() tdoa.State
	Levels() map[tdoa.SourceID]level.State
	CurrentLevel(id tdoa.SourceID) (level.State, bool)
	SetSensitivity(s float64)
	Sensitivity() float64
}

// Options carries optional server details.
type Options struct {
	Version    string
	InstanceID string // reported by /health; identifies one process run
	// Clients reports WebSocket clients connected outside this server, for
	// /metrics. May be nil.
	Clients func() int
}

// Server is the HTTP API.
type Server struct {
	app       *fiber.App
	addr      string
	engine    Engine
	hub       *Hub
	opts      Options
	startTime time.Time
}

// New creates a Server for engine listening on addr.
func New(addr string, engine Engine, opts Options) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "locator",
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
	})
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(loggingMiddleware())

	s := &Server{
		app:       app,
		addr:      addr,
		engine:    engine,
		hub:       newHub(engine),
		opts:      opts,
		startTime: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/health", s.healthHandler)
	s.app.Get("/metrics", s.metricsHandler)
	s.app.Get("/ws", s.hub.upgradeHandler())

	api := s.app.Group("/api")
	api.Get("/tdoa", s.tdoaHandler)
	api.Get("/pairs", s.pairsHandler)
	api.Get("/levels", s.levelsHandler)
	api.Get("/levels/:source", s.levelHandler)
	api.Put("/sensitivity", s.sensitivityHandler)
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	state := s.engine.State()
	status := "ok"
	if state == tdoa.StateUninitialized {
		status = "unconfigured"
	}
	return c.JSON(fiber.Map{
		"status":         status,
		"state":          state.String(),
		"version":        s.opts.Version,
		"instance":       s.opts.InstanceID,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// tdoaResponse flattens a snapshot into a list ordered by pair.
type tdoaResponse struct {
	Seq     uint64         `json:"seq"`
	At      time.Time      `json:"at"`
	Results []pairResponse `json:"results"`
}

type pairResponse struct {
	ID           string  `json:"id"`
	First        string  `json:"first"`
	Second       string  `json:"second"`
	DelaySamples int     `json:"delay_samples"`
	DelaySeconds float64 `json:"delay_seconds"`
	Confidence   float64 `json:"confidence"`
	PeakValue    float64 `json:"peak_value"`
}

func (s *Server) tdoaHandler(c *fiber.Ctx) error {
	snap := s.engine.Snapshot()
	resp := tdoaResponse{Results: []pairResponse{}}
	if snap != nil {
		resp.Seq = snap.Seq
		resp.At = snap.At
		for _, id := range tdoa.SortedPairIDs(snap.Results) {
			e := snap.Results[id]
			resp.Results = append(resp.Results, pairResponse{
				ID:           id.String(),
				First:        string(e.Pair.First),
				Second:       string(e.Pair.Second),
				DelaySamples: e.Result.DelaySamples,
				DelaySeconds: e.Result.DelaySeconds,
				Confidence:   e.Result.Confidence,
				PeakValue:    e.Result.PeakValue,
			})
		}
	}
	return c.JSON(resp)
}

func (s *Server) pairsHandler(c *fiber.Ctx) error {
	pairs := s.engine.Pairs()
	out := make([]fiber.Map, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, fiber.Map{
			"id":       p.ID().String(),
			"first":    p.First,
			"second":   p.Second,
			"distance": p.Distance(),
		})
	}
	return c.JSON(fiber.Map{
		"pairs":   out,
		"sources": s.engine.Sources(),
	})
}

func (s *Server) levelsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"sensitivity": s.engine.Sensitivity(),
		"levels":      s.engine.Levels(),
	})
}

func (s *Server) levelHandler(c *fiber.Ctx) error {
	id := tdoa.SourceID(c.Params("source"))
	st, ok := s.engine.CurrentLevel(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("unknown source %q", id),
		})
	}
	return c.JSON(st)
}

type sensitivityRequest struct {
	Sensitivity *float64 `json:"sensitivity"`
}

func (s *Server) sensitivityHandler(c *fiber.Ctx) error {
	var req sensitivityRequest
	if err := c.BodyParser(&req); err != nil || req.Sensitivity == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "body must be {\"sensitivity\": <number>}",
		})
	}
	s.engine.SetSensitivity(*req.Sensitivity)
	applog.Infof("Server: Sensitivity set to %.2f", s.engine.Sensitivity())
	return c.JSON(fiber.Map{"sensitivity": s.engine.Sensitivity()})
}

// metricsHandler writes Prometheus text format.
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	var b strings.Builder
	gauge := func(name, help string) {
		fmt.Fprintf(&b, "# HELP locator_%s %s\n# TYPE locator_%s gauge\n", name, help, name)
	}

	gauge("uptime_seconds", "Server uptime in seconds")
	fmt.Fprintf(&b, "locator_uptime_seconds %d\n", int64(time.Since(s.startTime).Seconds()))
	gauge("state", "Scheduler state (0=uninitialized, 1=configured, 2=processing)")
	fmt.Fprintf(&b, "locator_state %d\n", s.engine.State())
	gauge("sensitivity", "Level detector sensitivity")
	fmt.Fprintf(&b, "locator_sensitivity %g\n", s.engine.Sensitivity())

	if snap := s.engine.Snapshot(); snap != nil {
		gauge("tick_seq", "Sequence number of the latest snapshot")
		fmt.Fprintf(&b, "locator_tick_seq %d\n", snap.Seq)
		ids := tdoa.SortedPairIDs(snap.Results)
		gauge("delay_seconds", "Estimated delay per pair")
		for _, id := range ids {
			fmt.Fprintf(&b, "locator_delay_seconds{pair=%q} %g\n", id.String(), snap.Results[id].Result.DelaySeconds)
		}
		gauge("confidence", "Estimate confidence per pair")
		for _, id := range ids {
			fmt.Fprintf(&b, "locator_confidence{pair=%q} %g\n", id.String(), snap.Results[id].Result.Confidence)
		}
	}

	levels := s.engine.Levels()
	gauge("level_rms", "Smoothed normalized level per source (0..1)")
	for _, id := range sortedSources(levels) {
		fmt.Fprintf(&b, "locator_level_rms{source=%q} %g\n", id, levels[id].RMS)
	}

	clients := s.hub.ClientCount()
	if s.opts.Clients != nil {
		clients += s.opts.Clients()
	}
	gauge("websocket_clients", "Current WebSocket client count")
	fmt.Fprintf(&b, "locator_websocket_clients %d\n", clients)

	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4; charset=utf-8")
	return c.SendString(b.String())
}

// Hub returns the server's WebSocket hub. Register it as a Runner sink to
// stream snapshots on /ws.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Addr returns the address Start listens on.
func (s *Server) Addr() string {
	return s.addr
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	applog.Infof("Server: Starting HTTP server on %s", s.addr)
	return s.app.Listen(s.addr)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	applog.Infof("Server: Serving HTTP on %s", ln.Addr())
	return s.app.Listener(ln)
}

// Shutdown stops the server, waiting for requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	applog.Infof("Server: Shutting down HTTP server")
	s.hub.Close()
	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
