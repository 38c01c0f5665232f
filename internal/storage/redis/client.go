// Package redis implements the coordination stores on top of go-redis: the
// correlation map, per-job fan-in state, and the bounded-wait result lists.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Key layout shared by every store in this package.
const (
	correlationPrefix = "webhook:corr:"
	resultsPrefix     = "webhook:results:"
	jobPrefix         = "job:"
)

// Config holds connection settings.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Connect builds a client and verifies it with PING.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		// Lets BRPOP waits end when the request context does.
		ContextTimeoutEnabled: true,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		pingErr := fmt.Errorf("ping redis: %w", err)
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, pingErr
	}
	return client, nil
}

func correlationKey(topic, id string) string {
	return correlationPrefix + topic + ":" + id
}

func resultsKey(topic, jobID string) string {
	return resultsPrefix + topic + ":" + jobID
}

// Job keys wrap the id in a hash tag so both keys land in one cluster slot,
// and the fixed suffix keeps one job's keys from aliasing another's.
func jobKey(jobID string) string {
	return jobPrefix + "{" + jobID + "}:state"
}

func jobResultsKey(jobID string) string {
	return jobPrefix + "{" + jobID + "}:results"
}
