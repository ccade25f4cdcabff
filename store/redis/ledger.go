// Package redis implements achievement.LedgerStore on Redis.
//
// Data structure:
//   - {prefix}:entry:{user}:{game}:{achievement} -> hash (id, user_id, achievement_id,
//     game_id, progress, unlocked, unlocked_at, created_at, updated_at)
//   - {prefix}:user:{user}              -> set of "{game}:{achievement}"
//   - {prefix}:user:{user}:game:{game}  -> set of achievement IDs
//
// Entry creation and the unlock flip run as Lua scripts, so each is one
// atomic step on the server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/gtcompanion/achievement-engine/achievement"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "achievements",
	}
}

// Ledger stores per-user achievement progress in Redis hashes.
type Ledger struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// New connects to Redis and verifies the connection.
func New(config Config) (*Ledger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, config.KeyPrefix), nil
}

// NewWithClient creates a Ledger using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client, prefix string) *Ledger {
	if prefix == "" {
		prefix = DefaultConfig().KeyPrefix
	}
	return &Ledger{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the Redis connection
func (l *Ledger) Close() error {
	return l.client.Close()
}

func (l *Ledger) entryKey(k achievement.EntryKey) string {
	return fmt.Sprintf("%s:entry:%d:%d:%d", l.prefix, k.UserID, k.GameID, k.AchievementID)
}

func (l *Ledger) userIndexKey(userID achievement.UserID) string {
	return fmt.Sprintf("%s:user:%d", l.prefix, userID)
}

func (l *Ledger) gameIndexKey(userID achievement.UserID, gameID achievement.GameID) string {
	return fmt.Sprintf("%s:user:%d:game:%d", l.prefix, userID, gameID)
}

// Lua script: create the entry hash and index it, unless it already exists.
var ensureEntryScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
	redis.call('HSET', KEYS[1],
		'id', ARGV[1],
		'user_id', ARGV[2],
		'achievement_id', ARGV[3],
		'game_id', ARGV[4],
		'progress', '0',
		'unlocked', '0',
		'created_at', ARGV[5],
		'updated_at', ARGV[5])
	redis.call('SADD', KEYS[2], ARGV[4] .. ':' .. ARGV[3])
	redis.call('SADD', KEYS[3], ARGV[3])
	return 1
`)

// Lua script: overwrite progress; flip unlocked once.
// Returns -1 if the entry is missing, 1 if this call unlocked it, else 0.
var recordProgressScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return -1
	end
	redis.call('HSET', KEYS[1], 'progress', ARGV[1], 'updated_at', ARGV[2])
	if ARGV[3] == '1' and redis.call('HGET', KEYS[1], 'unlocked') ~= '1' then
		redis.call('HSET', KEYS[1], 'unlocked', '1', 'unlocked_at', ARGV[2])
		return 1
	end
	return 0
`)

// EnsureEntry creates the entry with zero progress if absent.
func (l *Ledger) EnsureEntry(ctx context.Context, key achievement.EntryKey) error {
	keys := []string{l.entryKey(key), l.userIndexKey(key.UserID), l.gameIndexKey(key.UserID, key.GameID)}
	err := ensureEntryScript.Run(ctx, l.client, keys,
		uuid.NewString(),
		int64(key.UserID),
		int64(key.AchievementID),
		int64(key.GameID),
		l.now().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to ensure ledger entry: %w", err)
	}
	return nil
}

// RecordProgress overwrites progress and unlocks once.
func (l *Ledger) RecordProgress(ctx context.Context, w achievement.ProgressWrite) (achievement.LedgerEntry, bool, error) {
	met := "0"
	if w.ThresholdMet {
		met = "1"
	}
	res, err := recordProgressScript.Run(ctx, l.client, []string{l.entryKey(w.Key)},
		w.Progress.String(), w.At.UTC().Format(time.RFC3339Nano), met).Int64()
	if err != nil {
		return achievement.LedgerEntry{}, false, fmt.Errorf("failed to record progress: %w", err)
	}
	if res < 0 {
		return achievement.LedgerEntry{}, false, achievement.ErrEntryNotFound
	}

	fields, err := l.client.HGetAll(ctx, l.entryKey(w.Key)).Result()
	if err != nil {
		return achievement.LedgerEntry{}, false, fmt.Errorf("failed to load ledger entry: %w", err)
	}
	entry, err := parseEntry(fields)
	if err != nil {
		return achievement.LedgerEntry{}, false, err
	}
	return entry, res == 1, nil
}

func (l *Ledger) EntriesForGame(ctx context.Context, userID achievement.UserID, gameID achievement.GameID) ([]achievement.LedgerEntry, error) {
	ids, err := l.client.SMembers(ctx, l.gameIndexKey(userID, gameID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger index: %w", err)
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		aid, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt ledger index member %q: %w", id, err)
		}
		keys = append(keys, l.entryKey(achievement.EntryKey{UserID: userID, AchievementID: achievement.AchievementID(aid), GameID: gameID}))
	}
	return l.loadEntries(ctx, keys)
}

func (l *Ledger) EntriesForUser(ctx context.Context, userID achievement.UserID) ([]achievement.LedgerEntry, error) {
	members, err := l.client.SMembers(ctx, l.userIndexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger index: %w", err)
	}
	keys := make([]string, 0, len(members))
	for _, m := range members {
		g, a, ok := strings.Cut(m, ":")
		if !ok {
			return nil, fmt.Errorf("corrupt ledger index member %q", m)
		}
		gid, err1 := strconv.ParseInt(g, 10, 64)
		aid, err2 := strconv.ParseInt(a, 10, 64)
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("corrupt ledger index member %q: %w", m, err)
		}
		keys = append(keys, l.entryKey(achievement.EntryKey{UserID: userID, AchievementID: achievement.AchievementID(aid), GameID: achievement.GameID(gid)}))
	}
	return l.loadEntries(ctx, keys)
}

// loadEntries fetches every hash in one pipeline, ordered by game then achievement.
func (l *Ledger) loadEntries(ctx context.Context, keys []string) ([]achievement.LedgerEntry, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := l.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}

	entries := make([]achievement.LedgerEntry, 0, len(keys))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		e, err := parseEntry(fields)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].GameID != entries[j].GameID {
			return entries[i].GameID < entries[j].GameID
		}
		return entries[i].AchievementID < entries[j].AchievementID
	})
	return entries, nil
}

func parseEntry(f map[string]string) (achievement.LedgerEntry, error) {
	if len(f) == 0 {
		return achievement.LedgerEntry{}, achievement.ErrEntryNotFound
	}
	userID, err1 := strconv.ParseInt(f["user_id"], 10, 64)
	achID, err2 := strconv.ParseInt(f["achievement_id"], 10, 64)
	gameID, err3 := strconv.ParseInt(f["game_id"], 10, 64)
	progress, err4 := decimal.NewFromString(f["progress"])
	createdAt, err5 := time.Parse(time.RFC3339Nano, f["created_at"])
	updatedAt, err6 := time.Parse(time.RFC3339Nano, f["updated_at"])
	if err := errors.Join(err1, err2, err3, err4, err5, err6); err != nil {
		return achievement.LedgerEntry{}, fmt.Errorf("corrupt ledger entry %q: %w", f["id"], err)
	}

	e := achievement.LedgerEntry{
		ID:            f["id"],
		UserID:        achievement.UserID(userID),
		AchievementID: achievement.AchievementID(achID),
		GameID:        achievement.GameID(gameID),
		Progress:      progress,
		Unlocked:      f["unlocked"] == "1",
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
	if s := f["unlocked_at"]; s != "" {
		at, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return achievement.LedgerEntry{}, fmt.Errorf("corrupt ledger entry %q: %w", f["id"], err)
		}
		e.UnlockedAt = &at
	}
	return e, nil
}

var _ achievement.LedgerStore = (*Ledger)(nil)
