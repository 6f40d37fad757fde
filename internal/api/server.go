package api

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"transitopt/internal/config"
	"transitopt/internal/density"
	"transitopt/internal/engine"
	"transitopt/internal/geo"
	"transitopt/internal/model"
	"transitopt/internal/network"
	"transitopt/internal/store"
)

type Server struct {
	Engine  *engine.Engine
	Store   store.Store
	Index   *geo.StopIndex
	Broker  EventBroker
	Density *density.Provider
	Log     *zap.Logger
	Now     func() time.Time

	cfg      config.Config
	validate *validator.Validate
}

// NewServer wires handlers over already constructed collaborators.
func NewServer(eng *engine.Engine, st store.Store, idx *geo.StopIndex, broker EventBroker, provider *density.Provider, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if broker == nil {
		broker = NewBroker()
	}
	if idx == nil {
		idx = geo.NewStopIndex()
	}
	return &Server{
		Engine:   eng,
		Store:    st,
		Index:    idx,
		Broker:   broker,
		Density:  provider,
		Log:      log,
		Now:      time.Now,
		validate: newValidator(),
	}
}

// NewServerFromConfig picks the Postgres store when database.url is set and
// the in-memory store otherwise, and the Redis broker when redis.url is set.
// An empty store is seeded from network.file before the engine is restored.
func NewServerFromConfig(ctx context.Context, cfg config.Config, log *zap.Logger) (*Server, error) {
	var st store.Store
	if strings.TrimSpace(cfg.Database.URL) == "" {
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, err
			}
		}
		st = pg
	}

	if cfg.Network.File != "" {
		if err := seed(ctx, st, cfg.Network.File, log); err != nil {
			closeStore(st)
			return nil, err
		}
	}

	eng := engine.New(engine.Options{
		MaxSequenceStops:  cfg.Engine.MaxSequenceStops,
		MaxSequenceStates: cfg.Engine.MaxSequenceStates,
		ParallelThreshold: cfg.Engine.ParallelThreshold,
	}, log.Named("engine"))
	idx := geo.NewStopIndex()
	sum, err := network.Restore(ctx, st, eng, idx)
	if err != nil {
		closeStore(st)
		return nil, err
	}
	log.Info("network restored", zap.Int("stops", sum.Stops), zap.Int("connections", sum.Connections))

	provider, err := density.NewProvider(density.Config{
		Base:      cfg.Density.Base,
		JitterMin: cfg.Density.JitterMin,
		JitterMax: cfg.Density.JitterMax,
	}, density.NewSeededSource(cfg.Density.Seed))
	if err != nil {
		closeStore(st)
		return nil, err
	}

	var broker EventBroker
	if cfg.Redis.URL != "" {
		rb, err := NewRedisBroker(ctx, cfg.Redis.URL, log.Named("broker"))
		if err != nil {
			log.Warn("redis unavailable, using in-memory broker", zap.Error(err))
			broker = NewBroker()
		} else {
			broker = rb
		}
	} else {
		broker = NewBroker()
	}

	s := NewServer(eng, st, idx, broker, provider, log)
	s.cfg = cfg
	return s, nil
}

// seed applies the network file only when the store holds no stops yet.
func seed(ctx context.Context, st store.Store, path string, log *zap.Logger) error {
	stops, err := st.ListStops(ctx)
	if err != nil {
		return err
	}
	if len(stops) > 0 {
		return nil
	}
	def, err := network.LoadFile(path)
	if err != nil {
		return err
	}
	sum, err := def.Apply(ctx, st)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	log.Info("network seeded",
		zap.String("file", path),
		zap.Int("stops", sum.Stops),
		zap.Int("connections", sum.Connections),
		zap.Int("routes", sum.Routes))
	return nil
}

func closeStore(st store.Store) {
	if c, ok := st.(io.Closer); ok {
		_ = c.Close()
	}
}

func (s *Server) Close() error {
	err := s.Broker.Close()
	closeStore(s.Store)
	return err
}

// PublishDensity announces new readings to density stream subscribers.
func (s *Server) PublishDensity(readings []model.DensityReading) {
	if len(readings) == 0 {
		return
	}
	s.Broker.Publish(DensityTopic, Event{
		Type: "density.updated",
		Data: map[string]any{"readings": readings},
	})
}
