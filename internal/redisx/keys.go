package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotent placement: idem:order:place:{idempotency_key} -> order_id
	KeyIdemOrderPlace = "idem:order:place:%s"

	// Cached order JSON: order:{order_id}
	KeyOrder = "order:%s"

	// Cached aggregate: stats:{scope}:{subject} (subject "all" for platform)
	KeyStats = "stats:%s:%s"

	// Generation of a cached aggregate: statsgen:{stats key}. Bumped on
	// every write touching the aggregate; values are stored under
	// {stats key}@{generation}.
	KeyStatsGen = "statsgen:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLStatsGen    = 7 * 24 * time.Hour
)

func StatsKey(scope, subject string) string {
	if subject == "" {
		subject = "all"
	}
	return fmt.Sprintf(KeyStats, scope, subject)
}

func StatsGenKey(statsKey string) string { return fmt.Sprintf(KeyStatsGen, statsKey) }

func StatsVersionKey(statsKey, gen string) string { return statsKey + "@" + gen }
