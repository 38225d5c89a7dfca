package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/grishkovelli/phonewatch/internal/task"
)

// redisCmdable is the narrow slice of *redis.Client this store actually
// calls: the smallest interface a real client satisfies, not the full
// Cmdable surface, so a fake can stand in for tests.
type redisCmdable interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisStore persists task progress, website rows, and upload paths in
// Redis. Task/website rows are hashes; stopped-task checkpoints are pushed
// onto a list keyed by task id so a task stopped more than once keeps its
// checkpoint history.
type RedisStore struct {
	c   redisCmdable
	ttl time.Duration
}

// NewRedis builds a RedisStore against a real Redis server at addr.
func NewRedis(addr string) *RedisStore {
	return &RedisStore{c: redis.NewClient(&redis.Options{Addr: addr}), ttl: 30 * 24 * time.Hour}
}

func taskKey(id uint32) string    { return fmt.Sprintf("phonewatch:task:%d", id) }
func websiteKey(id uint32) string { return fmt.Sprintf("phonewatch:website:%d", id) }
func uploadKey(id uint32) string  { return fmt.Sprintf("phonewatch:upload:%d", id) }
func stoppedKey(id uint32) string { return fmt.Sprintf("phonewatch:stopped:%d", id) }
func erredKey(id uint32) string   { return fmt.Sprintf("phonewatch:erred:%d", id) }

func (r *RedisStore) WriteProgress(taskID uint32, processed, ipUsed uint32, status task.Status) error {
	ctx := context.Background()
	return r.c.HSet(ctx, taskKey(taskID),
		"task_id", taskID,
		"processed", processed,
		"ip_used", ipUsed,
		"status", status.String(),
	).Err()
}

func (r *RedisStore) PersistStopped(row task.StoppedTaskRow) error {
	ctx := context.Background()
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("store: marshal stopped row: %w", err)
	}
	if err := r.c.RPush(ctx, stoppedKey(row.TaskID), body).Err(); err != nil {
		return err
	}
	return r.c.HSet(ctx, taskKey(row.TaskID), "task_id", row.TaskID, "status", task.Stopped.String()).Err()
}

func (r *RedisStore) PersistErred(row task.ErredTaskRow) error {
	ctx := context.Background()
	if err := r.c.Set(ctx, erredKey(row.TaskID), row.Reason, r.ttl).Err(); err != nil {
		return err
	}
	return r.c.HSet(ctx, taskKey(row.TaskID), "task_id", row.TaskID, "status", task.Erred.String()).Err()
}

func (r *RedisStore) PersistCompleted(taskID uint32) error {
	ctx := context.Background()
	return r.c.HSet(ctx, taskKey(taskID), "task_id", taskID, "status", task.TaskCompleted.String()).Err()
}

func (r *RedisStore) UploadPath(id uint32) (string, error) {
	path, err := r.c.Get(context.Background(), uploadKey(id)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return path, err
}

func (r *RedisStore) PutUpload(id uint32, path string) error {
	return r.c.Set(context.Background(), uploadKey(id), path, 0).Err()
}

func (r *RedisStore) Website(id uint32) (Website, error) {
	ctx := context.Background()
	fields, err := r.c.HGetAll(ctx, websiteKey(id)).Result()
	if err != nil {
		return Website{}, err
	}
	if len(fields) == 0 {
		return Website{}, ErrNotFound
	}
	return Website{ID: id, Alias: fields["alias"], Address: fields["address"]}, nil
}

func (r *RedisStore) PutWebsite(w Website) error {
	return r.c.HSet(context.Background(), websiteKey(w.ID),
		"id", w.ID, "alias", w.Alias, "address", w.Address,
	).Err()
}

func (r *RedisStore) TaskRow(taskID uint32) (TaskRow, error) {
	ctx := context.Background()
	fields, err := r.c.HGetAll(ctx, taskKey(taskID)).Result()
	if err != nil {
		return TaskRow{}, err
	}
	if len(fields) == 0 {
		return TaskRow{}, ErrNotFound
	}
	processed, _ := strconv.ParseUint(fields["processed"], 10, 32)
	ipUsed, _ := strconv.ParseUint(fields["ip_used"], 10, 32)
	return TaskRow{
		TaskID:    taskID,
		Processed: uint32(processed),
		IPUsed:    uint32(ipUsed),
		Status:    parseStatus(fields["status"]),
	}, nil
}

func (r *RedisStore) StoppedTask(taskID uint32) (task.StoppedTaskRow, error) {
	ctx := context.Background()
	entries, err := r.c.LRange(ctx, stoppedKey(taskID), -1, -1).Result()
	if err != nil {
		return task.StoppedTaskRow{}, err
	}
	if len(entries) == 0 {
		return task.StoppedTaskRow{}, ErrNotFound
	}
	var row task.StoppedTaskRow
	if err := json.Unmarshal([]byte(entries[0]), &row); err != nil {
		return task.StoppedTaskRow{}, fmt.Errorf("store: unmarshal stopped row: %w", err)
	}
	return row, nil
}

func (r *RedisStore) Close() error { return r.c.Close() }

func parseStatus(s string) task.Status {
	switch s {
	case "ongoing":
		return task.Ongoing
	case "stopped":
		return task.Stopped
	case "erred":
		return task.Erred
	case "completed":
		return task.TaskCompleted
	case "auto_stopped":
		return task.AutoStopped
	default:
		return task.NotStarted
	}
}
