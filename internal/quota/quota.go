// Package quota guards generation capacity per user. A denial has no side
// effects; an allowed request debits atomically.
package quota

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Guard answers whether a user may spend cost units of generation capacity,
// debiting the balance when allowed. An empty user id is always allowed;
// identity enforcement happens at the API layer, not here.
type Guard interface {
	CheckAndDebit(ctx context.Context, userID string, cost int) bool
	Remaining(ctx context.Context, userID string) int
}

// checkAndDebitScript atomically compares the balance against the cost and
// decrements only when it covers the cost.
const checkAndDebitScript = `
local val = tonumber(redis.call('GET', KEYS[1]) or '-1')
if val < tonumber(ARGV[1]) then
	return -1
end
redis.call('DECRBY', KEYS[1], ARGV[1])
return val - tonumber(ARGV[1])
`

// RedisGuard shares one balance per user across processes.
type RedisGuard struct {
	client       *redis.Client
	defaultQuota int
	script       *redis.Script
	// fallback takes over when Redis errors; quota then degrades to
	// per-process counting instead of blocking generation outright.
	fallback *LocalGuard
}

func NewRedisGuard(client *redis.Client, defaultQuota int) *RedisGuard {
	if defaultQuota <= 0 {
		defaultQuota = 100
	}
	return &RedisGuard{
		client:       client,
		defaultQuota: defaultQuota,
		script:       redis.NewScript(checkAndDebitScript),
		fallback:     NewLocalGuard(defaultQuota),
	}
}

func quotaKey(userID string) string {
	return "quota:" + userID
}

func (g *RedisGuard) CheckAndDebit(ctx context.Context, userID string, cost int) bool {
	if userID == "" {
		return true
	}
	if cost <= 0 {
		cost = 1
	}

	key := quotaKey(userID)
	exists, err := g.client.Exists(ctx, key).Result()
	if err != nil {
		log.Printf("quota: redis check for %s failed: %v", userID, err)
		return g.fallback.CheckAndDebit(ctx, userID, cost)
	}
	if exists == 0 {
		if err := g.client.Set(ctx, key, g.defaultQuota, 0).Err(); err != nil {
			log.Printf("quota: init balance for %s failed: %v", userID, err)
			return g.fallback.CheckAndDebit(ctx, userID, cost)
		}
	}

	res, err := g.script.Run(ctx, g.client, []string{key}, cost).Int()
	if err != nil {
		log.Printf("quota: debit for %s failed: %v", userID, err)
		return g.fallback.CheckAndDebit(ctx, userID, cost)
	}
	return res >= 0
}

func (g *RedisGuard) Remaining(ctx context.Context, userID string) int {
	if userID == "" {
		return g.defaultQuota
	}
	val, err := g.client.Get(ctx, quotaKey(userID)).Int()
	if err != nil {
		if err == redis.Nil {
			return g.defaultQuota
		}
		log.Printf("quota: read balance for %s failed: %v", userID, err)
		return g.fallback.Remaining(ctx, userID)
	}
	return val
}

// LocalGuard counts per process. Not durable and not shared; used when no
// Redis URL is configured.
type LocalGuard struct {
	mu           sync.Mutex
	balances     map[string]int
	defaultQuota int
}

func NewLocalGuard(defaultQuota int) *LocalGuard {
	if defaultQuota <= 0 {
		defaultQuota = 100
	}
	return &LocalGuard{
		balances:     make(map[string]int),
		defaultQuota: defaultQuota,
	}
}

func (g *LocalGuard) CheckAndDebit(ctx context.Context, userID string, cost int) bool {
	if userID == "" {
		return true
	}
	if cost <= 0 {
		cost = 1
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	balance, ok := g.balances[userID]
	if !ok {
		balance = g.defaultQuota
	}
	if balance < cost {
		return false
	}
	g.balances[userID] = balance - cost
	return true
}

func (g *LocalGuard) Remaining(ctx context.Context, userID string) int {
	if userID == "" {
		return g.defaultQuota
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if balance, ok := g.balances[userID]; ok {
		return balance
	}
	return g.defaultQuota
}
