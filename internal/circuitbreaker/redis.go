package circuitbreaker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/fragmentforge/llm-gateway/internal/domain"
)

// RedisClient is the subset of redis.Cmdable the distributed breaker needs.
// redis.Client and miniredis-backed clients both satisfy it.
type RedisClient interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
	Pipeline() redis.Pipeliner
}

// Lua scripts keep multi-key state transitions atomic across gateway
// instances.

// allowScript checks if a request may proceed, transitioning open to
// half-open after the recovery timeout and admitting exactly one trial.
// Keys: [state_key, last_failure_key, trial_key]
// Args: [recovery_timeout_seconds]
// Returns: "allow" or "deny"
var allowScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'
local timeout = tonumber(ARGV[1])

if state == 'closed' then
    return 'allow'
end

if state == 'open' then
    local lastFailure = tonumber(redis.call('GET', KEYS[2]) or '0')
    local now = tonumber(redis.call('TIME')[1])

    if (now - lastFailure) >= timeout then
        redis.call('SET', KEYS[1], 'half-open')
        redis.call('SET', KEYS[3], '1')
        return 'allow'
    end
    return 'deny'
end

-- half-open: only one trial may be in flight
local trial = redis.call('GET', KEYS[3]) or '0'
if trial == '0' then
    redis.call('SET', KEYS[3], '1')
    return 'allow'
end
return 'deny'
`)

// recordSuccessScript closes the circuit from half-open and zeroes failures.
// Keys: [state_key, failures_key, trial_key]
var recordSuccessScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'

if state == 'closed' then
    redis.call('SET', KEYS[2], '0')
    return 'closed'
end

if state == 'half-open' then
    redis.call('SET', KEYS[1], 'closed')
    redis.call('SET', KEYS[2], '0')
    redis.call('SET', KEYS[3], '0')
    return 'closed'
end

return state
`)

// recordFailureScript counts consecutive failures and opens the circuit.
// Keys: [state_key, failures_key, last_failure_key, trial_key]
// Args: [failure_threshold]
var recordFailureScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'
local now = redis.call('TIME')[1]

redis.call('SET', KEYS[3], now)

if state == 'closed' then
    local failures = redis.call('INCR', KEYS[2])
    local threshold = tonumber(ARGV[1])

    if failures >= threshold then
        redis.call('SET', KEYS[1], 'open')
        return 'open'
    end
    return 'closed'
end

if state == 'half-open' then
    redis.call('SET', KEYS[1], 'open')
    redis.call('SET', KEYS[4], '0')
    return 'open'
end

return state
`)

// RedisCircuitBreaker implements a distributed circuit breaker shared by
// multiple gateway instances.
type RedisCircuitBreaker struct {
	client    RedisClient
	config    Config
	keyPrefix string
}

// NewRedisWithClient creates a Redis-backed circuit breaker on an existing
// client, so a single connection pool serves every guarded operation.
func NewRedisWithClient(client RedisClient, key string, cfg Config) *RedisCircuitBreaker {
	return &RedisCircuitBreaker{
		client:    client,
		config:    cfg,
		keyPrefix: fmt.Sprintf("cb:%s:", key),
	}
}

func (cb *RedisCircuitBreaker) stateKey() string       { return cb.keyPrefix + "state" }
func (cb *RedisCircuitBreaker) failuresKey() string    { return cb.keyPrefix + "failures" }
func (cb *RedisCircuitBreaker) lastFailureKey() string { return cb.keyPrefix + "last_failure" }
func (cb *RedisCircuitBreaker) trialKey() string       { return cb.keyPrefix + "trial" }

func (cb *RedisCircuitBreaker) Allow(ctx context.Context) error {
	keys := []string{cb.stateKey(), cb.lastFailureKey(), cb.trialKey()}
	args := []interface{}{int(cb.config.RecoveryTimeout.Seconds())}

	result, err := allowScript.Run(ctx, cb.client, keys, args...).Text()
	if err != nil {
		// On Redis error, fail open: let the request through.
		return nil
	}

	if result == "deny" {
		return domain.ErrCircuitBreakerOpen
	}

	return nil
}

func (cb *RedisCircuitBreaker) RecordSuccess(ctx context.Context) {
	keys := []string{cb.stateKey(), cb.failuresKey(), cb.trialKey()}
	recordSuccessScript.Run(ctx, cb.client, keys)
}

func (cb *RedisCircuitBreaker) RecordFailure(ctx context.Context) {
	keys := []string{cb.stateKey(), cb.failuresKey(), cb.lastFailureKey(), cb.trialKey()}
	args := []interface{}{cb.config.FailureThreshold}
	recordFailureScript.Run(ctx, cb.client, keys, args...)
}

func (cb *RedisCircuitBreaker) State(ctx context.Context) State {
	result, err := cb.client.Get(ctx, cb.stateKey()).Result()
	if err != nil {
		return StateClosed
	}
	return parseState(result)
}

// Failures returns the current consecutive failure count.
func (cb *RedisCircuitBreaker) Failures(ctx context.Context) int {
	result, err := cb.client.Get(ctx, cb.failuresKey()).Result()
	if err != nil {
		return 0
	}
	failures, _ := strconv.Atoi(result)
	return failures
}

// Reset returns the circuit breaker to closed state. Used for manual
// intervention and tests.
func (cb *RedisCircuitBreaker) Reset(ctx context.Context) error {
	pipe := cb.client.Pipeline()
	pipe.Set(ctx, cb.stateKey(), "closed", 0)
	pipe.Set(ctx, cb.failuresKey(), "0", 0)
	pipe.Set(ctx, cb.trialKey(), "0", 0)
	pipe.Del(ctx, cb.lastFailureKey())
	_, err := pipe.Exec(ctx)
	return err
}

func parseState(s string) State {
	switch s {
	case "open":
		return StateOpen
	case "half-open":
		return StateHalfOpen
	default:
		return StateClosed
	}
}
