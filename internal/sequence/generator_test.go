package sequence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/config"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
	"github.com/angelmondragon/greenbasket-backend/pkg/metrics"
)

var fixedNow = time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func newGenerator(t *testing.T, conn *gorm.DB, mutate func(*Options)) Generator {
	t.Helper()
	opts := Options{
		Repo:        NewRepository(conn),
		Logger:      testLogger(),
		MaxAttempts: 5,
		Now:         func() time.Time { return fixedNow },
		Sleep:       func(time.Duration) {},
	}
	if mutate != nil {
		mutate(&opts)
	}
	gen, err := NewGenerator(opts)
	require.NoError(t, err)
	return gen
}

func TestNewGeneratorRequiresDependencies(t *testing.T) {
	_, err := NewGenerator(Options{Logger: testLogger()})
	assert.Error(t, err)
	_, err = NewGenerator(Options{Repo: NewRepository(nil)})
	assert.Error(t, err)
}

func TestNextIsSequentialPerScopeAndDay(t *testing.T) {
	conn := dbtest.New(t)
	ctx := context.Background()
	now := fixedNow
	gen := newGenerator(t, conn, func(o *Options) {
		o.Now = func() time.Time { return now }
	})

	first, err := gen.Next(ctx, ScopeOrder)
	require.NoError(t, err)
	assert.Equal(t, "ORD202610170001", first)

	second, err := gen.Next(ctx, ScopeOrder)
	require.NoError(t, err)
	assert.Equal(t, "ORD202610170002", second)

	invoice, err := gen.Next(ctx, ScopeInvoice)
	require.NoError(t, err)
	assert.Equal(t, "INV202610170001", invoice)

	now = now.Add(24 * time.Hour)
	nextDay, err := gen.Next(ctx, ScopeOrder)
	require.NoError(t, err)
	assert.Equal(t, "ORD202610180001", nextDay)
}

func TestNextRecoversFromStaleCache(t *testing.T) {
	conn := dbtest.New(t)
	ctx := context.Background()
	for seq := 1; seq <= 3; seq++ {
		require.NoError(t, conn.Create(&models.SequenceAllocation{
			Scope:      ScopeOrder.Name,
			DatePart:   "20261017",
			Sequence:   seq,
			Identifier: fmt.Sprintf("SEED-%d", seq),
		}).Error)
	}
	cache := NewLRU(8)
	cache.Set("order:20261017", 1)
	gen := newGenerator(t, conn, func(o *Options) { o.Cache = cache })

	id, err := gen.Next(ctx, ScopeOrder)
	require.NoError(t, err)
	assert.Equal(t, "ORD202610170004", id)

	cached, _ := cache.Get("order:20261017")
	assert.Equal(t, 4, cached)
}

func TestNextConcurrentCallersGetDistinctIDs(t *testing.T) {
	conn := dbtest.New(t)
	ctx := context.Background()
	gen := newGenerator(t, conn, func(o *Options) { o.MaxAttempts = 100 })

	const callers = 50
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{}, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := gen.Next(ctx, ScopeOrder)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, callers)
}

type conflictingRepo struct{}

func (conflictingRepo) MaxSequence(context.Context, string, string) (int, error) { return 0, nil }

func (conflictingRepo) Insert(context.Context, *models.SequenceAllocation) error {
	return errors.New("UNIQUE constraint failed: sequence_allocations.identifier")
}

func TestNextFallsBackAfterExhaustingAttempts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSettlementMetrics(reg)
	var sleeps []time.Duration
	gen, err := NewGenerator(Options{
		Repo:        conflictingRepo{},
		Logger:      testLogger(),
		Metrics:     m,
		MaxAttempts: 4,
		BaseBackoff: 10 * time.Millisecond,
		Now:         func() time.Time { return fixedNow },
		Sleep:       func(d time.Duration) { sleeps = append(sleeps, d) },
	})
	require.NoError(t, err)

	id, err := gen.Next(context.Background(), ScopeOrder)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^ORD\d{13}[0-9a-f]{6}$`), id)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond}, sleeps)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var fallbacks float64
	for _, mf := range mfs {
		if mf.GetName() == "sequence_fallback_ids_total" {
			fallbacks = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), fallbacks)
}

type brokenRepo struct{ conflictingRepo }

func (brokenRepo) Insert(context.Context, *models.SequenceAllocation) error {
	return errors.New("connection reset")
}

func TestNextSurfacesNonConflictErrors(t *testing.T) {
	gen, err := NewGenerator(Options{Repo: brokenRepo{}, Logger: testLogger(), Sleep: func(time.Duration) {}})
	require.NoError(t, err)
	_, err = gen.Next(context.Background(), ScopeOrder)
	assert.Error(t, err)

	_, err = gen.Next(context.Background(), Scope{})
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.SequenceConfig{MaxAttempts: 7, BaseBackoff: time.Millisecond, CacheSize: 3, Padding: 6})
	assert.Equal(t, 7, opts.MaxAttempts)
	assert.Equal(t, 6, opts.Padding)
	assert.NotNil(t, opts.Cache)
}
