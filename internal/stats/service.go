package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-farm-market/internal/orders"
	"github.com/ariefcatur/go-farm-market/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-farm-market/internal/stats")

// Service answers dashboard queries. It is read-only; every figure is
// recomputed from the ledger unless a cached copy of the current generation
// is still within TTL.
type Service struct {
	Store orders.Store
	Cache redis.Cmdable // nil disables caching
	TTL   time.Duration
	Log   logrus.FieldLogger
}

// GetAggregateStats returns the figures for one scope. subjectID is the
// seller or buyer id and is ignored for the platform scope.
func (s *Service) GetAggregateStats(ctx context.Context, actor orders.Actor, scope orders.Scope, subjectID string) (orders.Stats, error) {
	ctx, span := tracer.Start(ctx, "stats.GetAggregateStats", trace.WithAttributes(
		attribute.String("stats.scope", string(scope)),
		attribute.String("stats.subject", subjectID),
	))
	defer span.End()

	if err := authorize(actor, scope, subjectID); err != nil {
		return orders.Stats{}, err
	}
	if scope == orders.ScopePlatform {
		subjectID = ""
	}

	key, cacheable := s.versionedKey(ctx, redisx.StatsKey(string(scope), subjectID))
	if cacheable {
		if st, ok := s.cached(ctx, key); ok {
			span.SetAttributes(attribute.Bool("stats.cache_hit", true))
			return st, nil
		}
	}

	var (
		st  orders.Stats
		err error
	)
	switch scope {
	case orders.ScopeSeller:
		st, err = s.Store.SellerStats(ctx, subjectID)
	case orders.ScopeBuyer:
		st, err = s.Store.BuyerStats(ctx, subjectID)
	case orders.ScopePlatform:
		st, err = s.Store.PlatformStats(ctx)
	}
	if err != nil {
		return orders.Stats{}, fmt.Errorf("%s stats: %w", scope, err)
	}

	if cacheable {
		s.store(ctx, key, st)
	}
	return st, nil
}

func authorize(actor orders.Actor, scope orders.Scope, subjectID string) error {
	switch scope {
	case orders.ScopeSeller, orders.ScopeBuyer:
		if subjectID == "" {
			return &orders.ValidationError{Field: "subject_id", Reason: "required"}
		}
		if actor.IsAdmin() || actor.ID == subjectID {
			return nil
		}
	case orders.ScopePlatform:
		if actor.IsAdmin() {
			return nil
		}
	default:
		return &orders.ValidationError{Field: "scope", Reason: fmt.Sprintf("unknown scope %q", scope)}
	}
	return fmt.Errorf("%w: %s stats not visible to %s", orders.ErrForbidden, scope, actor.ID)
}

// versionedKey resolves the key the aggregate is cached under right now.
// A write bumps the generation, so a value computed before the write lands
// under a key no reader asks for again.
func (s *Service) versionedKey(ctx context.Context, statsKey string) (string, bool) {
	if s.Cache == nil || s.TTL <= 0 {
		return "", false
	}
	gen, err := s.Cache.Get(ctx, redisx.StatsGenKey(statsKey)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		gen = "0"
	case err != nil:
		s.Log.WithError(err).WithField("key", statsKey).Warn("stats generation read")
		return "", false
	}
	return redisx.StatsVersionKey(statsKey, gen), true
}

func (s *Service) cached(ctx context.Context, key string) (orders.Stats, bool) {
	raw, err := s.Cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.Log.WithError(err).WithField("key", key).Warn("stats cache read")
		}
		return orders.Stats{}, false
	}
	var st orders.Stats
	if err := json.Unmarshal(raw, &st); err != nil {
		return orders.Stats{}, false
	}
	return st, true
}

func (s *Service) store(ctx context.Context, key string, st orders.Stats) {
	b, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := s.Cache.Set(ctx, key, b, s.TTL).Err(); err != nil {
		s.Log.WithError(err).WithField("key", key).Warn("stats cache write")
	}
}

// Evict invalidates cached aggregates by bumping their generation; the next
// read recomputes them. Write paths call it after commit, before replying.
func (s *Service) Evict(ctx context.Context, statsKeys ...string) error {
	if s == nil || s.Cache == nil {
		return nil
	}
	var errs []error
	for _, k := range statsKeys {
		gk := redisx.StatsGenKey(k)
		if err := s.Cache.Incr(ctx, gk).Err(); err != nil {
			errs = append(errs, fmt.Errorf("bump %s: %w", gk, err))
			continue
		}
		_ = s.Cache.Expire(ctx, gk, redisx.TTLStatsGen).Err()
	}
	return errors.Join(errs...)
}

// OrderKeys lists the aggregates an order write changes.
func OrderKeys(sellerID, buyerID string) []string {
	return []string{
		redisx.StatsKey(string(orders.ScopeSeller), sellerID),
		redisx.StatsKey(string(orders.ScopeBuyer), buyerID),
		redisx.StatsKey(string(orders.ScopePlatform), ""),
	}
}

// LotKeys lists the aggregates a lot write changes.
func LotKeys(ownerID string) []string {
	return []string{
		redisx.StatsKey(string(orders.ScopeSeller), ownerID),
		redisx.StatsKey(string(orders.ScopePlatform), ""),
	}
}
