package sequence

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/angelmondragon/greenbasket-backend/pkg/config"
	"github.com/angelmondragon/greenbasket-backend/pkg/db"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
	"github.com/angelmondragon/greenbasket-backend/pkg/metrics"
)

// Scope names an identifier series and its printed prefix.
type Scope struct {
	Name   string
	Prefix string
}

var (
	ScopeOrder   = Scope{Name: "order", Prefix: "ORD"}
	ScopeInvoice = Scope{Name: "invoice", Prefix: "INV"}
)

const datePartLayout = "20060102"

// Generator allocates identifiers of the form <prefix><YYYYMMDD><seq>.
type Generator interface {
	Next(ctx context.Context, scope Scope) (string, error)
}

type Options struct {
	Repo        Repository
	Cache       Cache
	Logger      *logger.Logger
	Metrics     *metrics.SettlementMetrics
	MaxAttempts int
	BaseBackoff time.Duration
	Padding     int
	Now         func() time.Time
	Sleep       func(time.Duration)
}

type generator struct {
	repo        Repository
	cache       Cache
	logg        *logger.Logger
	metrics     *metrics.SettlementMetrics
	maxAttempts int
	baseBackoff time.Duration
	padding     int
	now         func() time.Time
	sleep       func(time.Duration)
}

// OptionsFromConfig fills the tunables from config; callers supply the
// collaborators.
func OptionsFromConfig(cfg config.SequenceConfig) Options {
	return Options{
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff,
		Padding:     cfg.Padding,
		Cache:       NewLRU(cfg.CacheSize),
	}
}

func NewGenerator(opts Options) (Generator, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("sequence repository required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.Cache == nil {
		opts.Cache = NewLRU(64)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Padding <= 0 {
		opts.Padding = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	return &generator{
		repo:        opts.Repo,
		cache:       opts.Cache,
		logg:        opts.Logger,
		metrics:     opts.Metrics,
		maxAttempts: opts.MaxAttempts,
		baseBackoff: opts.BaseBackoff,
		padding:     opts.Padding,
		now:         opts.Now,
		sleep:       opts.Sleep,
	}, nil
}

func (g *generator) Next(ctx context.Context, scope Scope) (string, error) {
	if scope.Name == "" || scope.Prefix == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "sequence scope required")
	}
	now := g.now().UTC()
	datePart := now.Format(datePartLayout)
	key := scope.Name + ":" + datePart

	last, ok := g.cache.Get(key)
	if !ok {
		max, err := g.repo.MaxSequence(ctx, scope.Name, datePart)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read sequence")
		}
		last = max
	}

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		seq := last + 1
		id := g.format(scope, datePart, seq)
		err := g.repo.Insert(ctx, &models.SequenceAllocation{
			Scope:      scope.Name,
			DatePart:   datePart,
			Sequence:   seq,
			Identifier: id,
		})
		if err == nil {
			g.cache.Set(key, seq)
			return id, nil
		}
		if !db.IsUniqueViolation(err, "") {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate sequence")
		}

		// Someone else took seq; resync from the table and back off.
		last = seq
		if max, readErr := g.repo.MaxSequence(ctx, scope.Name, datePart); readErr == nil && max > last {
			last = max
		}
		g.cache.Set(key, last)
		g.sleep(g.baseBackoff << attempt)
	}

	id := fallbackID(scope, now)
	g.metrics.IncSequenceFallback(scope.Name)
	g.logg.Warn(g.logg.WithFields(ctx, map[string]any{
		"scope":       scope.Name,
		"fallback_id": id,
	}), "sequence attempts exhausted, issuing fallback id")
	return id, nil
}

func (g *generator) format(scope Scope, datePart string, seq int) string {
	return fmt.Sprintf("%s%s%0*d", scope.Prefix, datePart, g.padding, seq)
}

// fallbackID is unique with overwhelming probability but not sequential.
func fallbackID(scope Scope, now time.Time) string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return scope.Prefix + strconv.FormatInt(now.UnixNano(), 10)
	}
	return scope.Prefix + strconv.FormatInt(now.UnixMilli(), 10) + hex.EncodeToString(buf)
}
