package device

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/miott/specrun/pkg/util"
)

// Locker guards a device across runner processes. Acquire blocks until the
// lock is held or ctx is done; Release is best-effort.
type Locker interface {
	Acquire(ctx context.Context, device string) error
	Release(ctx context.Context, device string) error
}

// acquireLockScript atomically claims a device lock key with holder,
// acquisition time, and TTL. Returns 1 on success, 0 when held elsewhere.
var acquireLockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
	return 0
end
redis.call("HSET", key, "holder", ARGV[1], "acquired", ARGV[2], "ttl", ARGV[3])
redis.call("EXPIRE", key, tonumber(ARGV[3]))
return 1
`)

// releaseLockScript releases a lock only when the holder matches.
// Returns 1 on success, 0 on holder mismatch, -1 when the key is gone.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
	return -1
end
local current = redis.call("HGET", key, "holder")
if current ~= ARGV[1] then
	return 0
end
redis.call("DEL", key)
return 1
`)

// RedisLocker shares device locks between runners through a Redis instance.
// Locks live under SPECRUN_LOCK|<device> with a holder id and TTL, so a
// crashed runner's locks expire rather than wedging the fleet.
type RedisLocker struct {
	client *redis.Client
	holder string

	// TTL bounds how long a single action may hold a device.
	TTL time.Duration
	// RetryInterval paces acquisition attempts while another holder has
	// the device.
	RetryInterval time.Duration
}

// NewRedisLocker connects to addr. holder identifies this runner in lock
// hashes; typically the run id.
func NewRedisLocker(addr, holder string) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return &RedisLocker{
		client:        client,
		holder:        holder,
		TTL:           5 * time.Minute,
		RetryInterval: time.Second,
	}, nil
}

// Acquire implements Locker, retrying until the lock is granted or ctx ends.
func (l *RedisLocker) Acquire(ctx context.Context, device string) error {
	key := lockKey(device)
	for {
		now := time.Now().UTC().Format(time.RFC3339)
		ttl := fmt.Sprintf("%d", int(l.TTL.Seconds()))
		result, err := acquireLockScript.Run(ctx, l.client, []string{key}, l.holder, now, ttl).Int()
		if err != nil {
			return util.NewDeviceError(device, "lock", err)
		}
		if result == 1 {
			return nil
		}
		select {
		case <-ctx.Done():
			return util.NewDeviceError(device, "lock",
				fmt.Errorf("%w: %v", util.ErrDeviceLocked, ctx.Err()))
		case <-time.After(l.RetryInterval):
		}
	}
}

// Release implements Locker. A vanished key (TTL expiry) is not an error.
func (l *RedisLocker) Release(ctx context.Context, device string) error {
	result, err := releaseLockScript.Run(ctx, l.client, []string{lockKey(device)}, l.holder).Int()
	if err != nil {
		return util.NewDeviceError(device, "unlock", err)
	}
	if result == 0 {
		return util.NewDeviceError(device, "unlock", fmt.Errorf("lock holder mismatch"))
	}
	return nil
}

// Close releases the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

func lockKey(device string) string {
	return "SPECRUN_LOCK|" + device
}
