package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coordinator/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const directoryPrefix = "broker:"

var ErrNotInDirectory = errors.New("client not in directory")

// DirectoryEntry is one connection summary as stored in Redis.
type DirectoryEntry struct {
	domain.ConnectionSummary
	InstanceID string    `json:"instance_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Directory mirrors the connections of this instance into Redis so operators
// can list clients across every running broker. Entries carry a TTL and are
// refreshed by Sync; a crashed instance's entries expire on their own.
type Directory struct {
	client     redis.UniversalClient
	instanceID string
	ttl        time.Duration
	logger     *zap.SugaredLogger
}

func NewDirectory(client redis.UniversalClient, instanceID string, ttl time.Duration, logger *zap.SugaredLogger) *Directory {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Directory{
		client:     client,
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger,
	}
}

// Sync writes every summary and removes entries this instance no longer has.
func (d *Directory) Sync(ctx context.Context, summaries []domain.ConnectionSummary) error {
	instanceKey := d.instanceKey(d.instanceID)
	previous, err := d.client.SMembers(ctx, instanceKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read instance clients: %w", err)
	}

	now := time.Now().UTC()
	current := make(map[string]bool, len(summaries))
	_, err = d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, s := range summaries {
			data, err := encodeEntry(DirectoryEntry{ConnectionSummary: s, InstanceID: d.instanceID, UpdatedAt: now})
			if err != nil {
				return err
			}
			current[string(s.ID)] = true
			pipe.Set(ctx, d.clientKey(s.ID), data, d.ttl)
			pipe.SAdd(ctx, instanceKey, string(s.ID))
		}
		pipe.Expire(ctx, instanceKey, d.ttl)
		pipe.SAdd(ctx, d.instancesKey(), d.instanceID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}

	for _, id := range previous {
		if current[id] {
			continue
		}
		if err := d.Remove(ctx, domain.ClientID(id)); err != nil {
			d.logger.Warnw("failed to remove stale directory entry", "client_id", id, "error", err)
		}
	}
	return nil
}

// Remove deletes a client's entry and its instance membership.
func (d *Directory) Remove(ctx context.Context, id domain.ClientID) error {
	entry, err := d.Get(ctx, id)
	if errors.Is(err, ErrNotInDirectory) {
		return d.client.SRem(ctx, d.instanceKey(d.instanceID), string(id)).Err()
	}
	if err != nil {
		return err
	}

	if err := d.client.SRem(ctx, d.instanceKey(entry.InstanceID), string(id)).Err(); err != nil {
		return fmt.Errorf("failed to remove client from instance set: %w", err)
	}
	return d.client.Del(ctx, d.clientKey(id)).Err()
}

func (d *Directory) Get(ctx context.Context, id domain.ClientID) (*DirectoryEntry, error) {
	data, err := d.client.Get(ctx, d.clientKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("client %s: %w", id, ErrNotInDirectory)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return decodeEntry(data)
}

// List returns the entries of every instance that has synced recently.
func (d *Directory) List(ctx context.Context) ([]DirectoryEntry, error) {
	instances, err := d.client.SMembers(ctx, d.instancesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	var entries []DirectoryEntry
	for _, instanceID := range instances {
		ids, err := d.InstanceClients(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			d.client.SRem(ctx, d.instancesKey(), instanceID)
			continue
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = d.clientKey(id)
		}
		values, err := d.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read instance %s: %w", instanceID, err)
		}
		for _, v := range values {
			raw, ok := v.(string)
			if !ok {
				// Expired between SMEMBERS and MGET.
				continue
			}
			entry, err := decodeEntry([]byte(raw))
			if err != nil {
				d.logger.Warnw("skipping malformed directory entry", "instance_id", instanceID, "error", err)
				continue
			}
			entries = append(entries, *entry)
		}
	}
	return entries, nil
}

func (d *Directory) InstanceClients(ctx context.Context, instanceID string) ([]domain.ClientID, error) {
	ids, err := d.client.SMembers(ctx, d.instanceKey(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get instance clients: %w", err)
	}
	out := make([]domain.ClientID, len(ids))
	for i, id := range ids {
		out[i] = domain.ClientID(id)
	}
	return out, nil
}

// Cleanup removes everything this instance wrote, e.g. on shutdown.
func (d *Directory) Cleanup(ctx context.Context) error {
	instanceKey := d.instanceKey(d.instanceID)
	ids, err := d.client.SMembers(ctx, instanceKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get instance clients: %w", err)
	}

	keys := []string{instanceKey}
	for _, id := range ids {
		keys = append(keys, d.clientKey(domain.ClientID(id)))
	}
	if err := d.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete directory entries: %w", err)
	}
	return d.client.SRem(ctx, d.instancesKey(), d.instanceID).Err()
}

// Run syncs source every interval until ctx is cancelled, then cleans up.
func (d *Directory) Run(ctx context.Context, source func() []domain.ConnectionSummary, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := func() {
		syncCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		if err := d.Sync(syncCtx, source()); err != nil && ctx.Err() == nil {
			d.logger.Warnw("directory sync failed", "error", err)
		}
	}

	tick()
	for {
		select {
		case <-ctx.Done():
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := d.Cleanup(cleanupCtx); err != nil {
				d.logger.Warnw("directory cleanup failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			tick()
		}
	}
}

func encodeEntry(entry DirectoryEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal directory entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*DirectoryEntry, error) {
	var entry DirectoryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal directory entry: %w", err)
	}
	if entry.ID == "" {
		return nil, fmt.Errorf("directory entry without id")
	}
	return &entry, nil
}

func (d *Directory) clientKey(id domain.ClientID) string {
	return directoryPrefix + "client:" + string(id)
}

func (d *Directory) instanceKey(instanceID string) string {
	return fmt.Sprintf("%sinstance:%s:clients", directoryPrefix, instanceID)
}

func (d *Directory) instancesKey() string {
	return directoryPrefix + "instances"
}
