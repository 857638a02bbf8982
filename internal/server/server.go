package server

import (
	"context"
	"encoding/json"
	"log"

	"drivetracker/internal/auth"
	"drivetracker/internal/backend"
	"drivetracker/internal/bridge"
	"drivetracker/internal/config"
	"drivetracker/internal/gps"
	"drivetracker/internal/journal"
	"drivetracker/internal/stream"
	"drivetracker/internal/timeutil"
	"drivetracker/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const journalQueueSize = 256

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Stream *stream.Hub

	Auth   *auth.Store
	Bridge *bridge.Bridge
	Drive  *tracking.Controller
	// Exactly one of Feed and Serial is set, depending on GPS_DEVICE.
	Feed    *gps.FeedSource
	Serial  *gps.SerialSource
	Journal *journal.Service
	writer  *journal.Writer
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient),
		Auth:   auth.NewStore(redisClient, cfg.DeviceID),
	}
	s.Bridge = bridge.New(s.Stream, cfg.DeviceID)

	clock := timeutil.RealClock{}
	var source tracking.Source
	if cfg.GPSDevice != "" {
		s.Serial = gps.NewSerialSource(cfg.GPSDevice, cfg.GPSBaud, clock)
		source = s.Serial
	} else {
		s.Feed = gps.NewFeedSource(clock)
		source = s.Feed
	}

	deps := tracking.Deps{
		Source:          source,
		Emitter:         s.Bridge,
		Backend:         backend.NewClient(cfg.BackendURL, nil, s.Auth, cfg.BackendTimeout),
		Identity:        s.Auth,
		Notifier:        hubNotifier{hub: s.Stream, topic: cfg.DeviceID + ":notices"},
		Clock:           clock,
		DistanceFilterM: cfg.GPSDistanceFilterM,
	}
	if db != nil {
		s.Journal = journal.NewService(db)
		s.writer = journal.NewWriter(s.Journal, journalQueueSize)
		deps.Recorder = s.writer
	}
	s.Drive = tracking.NewController(deps)

	registerRoutes(s)
	return s
}

// Start launches the background workers. They stop when ctx is done.
func (s *Server) Start(ctx context.Context) {
	if s.writer != nil {
		if err := s.Journal.EnsureSchema(ctx); err != nil {
			log.Printf("journal schema: %v", err)
		}
		go s.writer.Run(ctx)
	}
	if s.Serial != nil {
		go s.Serial.Run(ctx)
	}
	go s.Drive.Run(ctx)
	go func() {
		if _, err := s.Drive.RefreshStats(ctx); err != nil {
			log.Printf("initial stats refresh skipped: %v", err)
		}
	}()
}

func (s *Server) Close() error {
	return s.Stream.Close()
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "map_ready": s.Bridge.Ready()})
	})

	auth.RegisterRoutes(s.App.Group("/auth"), s.Auth)

	drive := s.App.Group("/drive", auth.RequireSession(s.Auth))
	tracking.RegisterRoutes(drive, s.Drive)
	if s.Journal != nil {
		journal.RegisterRoutes(drive.Group("/journal"), s.Journal)
	}
	tracking.RegisterMapRoutes(s.App.Group("/map"), s.Drive)
	if s.Feed != nil {
		gps.RegisterRoutes(s.App.Group("/gps"), s.Feed)
	}
	bridge.RegisterRoutes(s.App.Group("/bridge"), s.Bridge)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}

type hubNotifier struct {
	hub   *stream.Hub
	topic string
}

func (n hubNotifier) Notify(notice tracking.Notice) {
	payload, err := json.Marshal(notice)
	if err != nil {
		log.Printf("notice encode: %v", err)
		return
	}
	n.hub.Broadcast(n.topic, payload)
}
