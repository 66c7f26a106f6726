package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/alanyoungcy/depthsim/internal/domain"
	"github.com/alanyoungcy/depthsim/internal/simulator"
)

// BookReader provides the latest aggregated book for a target.
type BookReader interface {
	Latest(ctx context.Context, target domain.SubscriptionTarget) (BookSnapshot, error)
}

type simulationEvent struct {
	Event  string                  `json:"event"`
	Result domain.SimulationResult `json:"result"`
}

// SimulationService runs what-if orders against the latest book and keeps
// the most recent result per target until it is superseded or its simulated
// delay elapses.
type SimulationService struct {
	books   BookReader
	cache   domain.SimulationCache
	bus     domain.SignalBus
	now     func() time.Time
	marshal func(any) ([]byte, error)
	logger  *slog.Logger
}

// NewSimulationService creates a SimulationService.
func NewSimulationService(books BookReader, cache domain.SimulationCache, bus domain.SignalBus, logger *slog.Logger) *SimulationService {
	return &SimulationService{
		books:   books,
		cache:   cache,
		bus:     bus,
		now:     time.Now,
		marshal: json.Marshal,
		logger:  logger.With(slog.String("component", "simulation_service")),
	}
}

// Simulate validates spec and simulates it against the latest book for its
// target. Invalid specs return domain.ErrInvalidOrder; a target without a
// book returns domain.ErrNotFound.
func (s *SimulationService) Simulate(ctx context.Context, spec domain.OrderSpec) (domain.SimulationResult, error) {
	if err := spec.Validate(); err != nil {
		return domain.SimulationResult{}, fmt.Errorf("simulation_service: %w", err)
	}

	snap, err := s.books.Latest(ctx, spec.Target())
	if err != nil {
		return domain.SimulationResult{}, fmt.Errorf("simulation_service: %w", err)
	}

	res := simulator.Simulate(spec, snap.Book)
	res.ID = uuid.NewString()
	created := s.now().UTC()
	res.CreatedAt = &created
	if ttl := spec.Delay.Duration(); ttl > 0 {
		expires := created.Add(ttl)
		res.ExpiresAt = &expires
	}

	evt, err := s.marshal(simulationEvent{Event: "simulation", Result: res})
	if err != nil {
		return domain.SimulationResult{}, fmt.Errorf("simulation_service: marshal event: %w", err)
	}

	if err := s.cache.SetResult(ctx, res, spec.Delay.Duration()); err != nil {
		s.logger.WarnContext(ctx, "cache simulation result failed",
			slog.String("target", spec.Target().String()),
			slog.String("error", err.Error()),
		)
	}
	if pubErr := s.bus.Publish(ctx, domain.ChannelSimulation, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "publish simulation failed",
			slog.String("id", res.ID),
			slog.String("error", pubErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order simulated",
		slog.String("id", res.ID),
		slog.String("target", spec.Target().String()),
		slog.String("type", string(spec.Type)),
		slog.String("side", string(spec.Side)),
		slog.Float64("quantity", spec.Quantity),
		slog.Float64("fill_pct", res.FillPercentage),
		slog.Bool("active", res.Active),
	)
	return res, nil
}

// Latest returns the newest unexpired result for target.
func (s *SimulationService) Latest(ctx context.Context, target domain.SubscriptionTarget) (domain.SimulationResult, error) {
	res, err := s.cache.GetResult(ctx, target)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SimulationResult{}, fmt.Errorf("simulation_service: %s: %w", target, domain.ErrNotFound)
		}
		return domain.SimulationResult{}, fmt.Errorf("simulation_service: latest %s: %w", target, err)
	}
	if res.Expired(s.now()) {
		return domain.SimulationResult{}, fmt.Errorf("simulation_service: %s: %w", target, domain.ErrNotFound)
	}
	return res, nil
}
