package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/angelmondragon/greenbasket-backend/pkg/config"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
)

const (
	defaultPollMs = 500
	maxBackoff    = 10 * time.Second
	jitterWindow  = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type pinger interface {
	Ping(context.Context) error
}

type batchProcessor interface {
	ProcessBatch(ctx context.Context) (int, error)
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         pinger
	Redis      pinger
	Dispatcher batchProcessor
}

// Service polls the outbox and dispatches effects until ctx is cancelled.
type Service struct {
	logg         *logger.Logger
	db           pinger
	redis        pinger
	dispatcher   batchProcessor
	pollInterval time.Duration
	sleepFn      func(context.Context, time.Duration) error
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}

	pollMs := params.Config.Outbox.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	s := &Service{
		logg:         params.Logger,
		db:           params.DB,
		redis:        params.Redis,
		dispatcher:   params.Dispatcher,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
	}
	s.sleepFn = s.sleep
	return s, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if s.redis != nil {
		if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
			return err
		}
	}
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	interval := s.pollInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "effects worker context canceled")
			return ctx.Err()
		default:
		}

		claimed, err := s.dispatcher.ProcessBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "effects batch error", err)
			backoff = nextBackoff(backoff, interval, maxBackoff)
			if err := s.sleepFn(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval
		if claimed > 0 {
			continue
		}
		if err := s.sleepFn(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}
