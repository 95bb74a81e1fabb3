package app

import (
	"context"
	"fmt"
)

// Check probes one backing dependency for the /readyz endpoint.
type Check func(ctx context.Context) error

// Pinger covers anything with a plain Ping; the pgx pool and the Redpanda
// producer both satisfy it directly.
type Pinger interface{ Ping(ctx context.Context) error }

// RedisPingResult matches the status command returned by a go-redis Ping.
type RedisPingResult interface{ Err() error }

// RedisClient is what readiness needs from go-redis.
type RedisClient interface{ Ping(ctx context.Context) RedisPingResult }

// guard wraps a ping so a missing dependency reports as not configured
// instead of silently passing.
func guard(name string, ping func(context.Context) error) Check {
	return func(ctx context.Context) error {
		if ping == nil {
			return fmt.Errorf("%s not configured", name)
		}
		return ping(ctx)
	}
}

// BuildReadinessChecks returns the db, redis and kafka probes wired from
// whichever dependencies the caller actually constructed.
func BuildReadinessChecks(pool Pinger, rdb RedisClient, kafka Pinger) (db, cache, queue Check) {
	var dbPing, cachePing, queuePing func(context.Context) error
	if pool != nil {
		dbPing = pool.Ping
	}
	if rdb != nil {
		cachePing = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	if kafka != nil {
		queuePing = kafka.Ping
	}
	return guard("db", dbPing), guard("redis", cachePing), guard("kafka", queuePing)
}
