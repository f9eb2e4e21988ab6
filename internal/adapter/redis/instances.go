package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/smallest87/proyek-websocket-pc/internal/platform/version"
)

const (
	defaultHeartbeat = 15 * time.Second
	instanceTTL      = 60 * time.Second
	unregisterWait   = 2 * time.Second
)

// InstanceInfo is one relay instance's heartbeat record.
type InstanceInfo struct {
	InstanceID      string `json:"instance_id"`
	Timestamp       int64  `json:"timestamp"`
	Version         string `json:"version"`
	LiveConnections int    `json:"live_connections"`
}

// InstanceRegistry publishes this instance's heartbeat into a Redis hash shared
// by every instance on the same bridge channel. Entries older than
// instanceTTL are treated as gone.
type InstanceRegistry struct {
	rdb        *goredis.Client
	key        string
	instanceID string
	heartbeat  time.Duration
	clock      clockwork.Clock
	live       func() int
}

// NewInstanceRegistry registers instanceID under "<channel>:instances". live
// reports the current connection count for each heartbeat.
func NewInstanceRegistry(rdb *goredis.Client, channel, instanceID string, clock clockwork.Clock, live func() int) *InstanceRegistry {
	return &InstanceRegistry{
		rdb:        rdb,
		key:        channel + ":instances",
		instanceID: instanceID,
		heartbeat:  defaultHeartbeat,
		clock:      clock,
		live:       live,
	}
}

// Run registers immediately and then on every heartbeat until ctx is
// cancelled, when the entry is removed.
func (r *InstanceRegistry) Run(ctx context.Context) {
	r.register(ctx)

	ticker := r.clock.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			r.register(ctx)
		case <-ctx.Done():
			r.unregister(ctx)
			return
		}
	}
}

func (r *InstanceRegistry) register(ctx context.Context) {
	data, err := json.Marshal(InstanceInfo{
		InstanceID:      r.instanceID,
		Timestamp:       r.clock.Now().Unix(),
		Version:         version.Version,
		LiveConnections: r.live(),
	})
	if err != nil {
		return
	}

	if err := r.rdb.HSet(ctx, r.key, r.instanceID, data).Err(); err != nil && ctx.Err() == nil {
		slog.Warn("Instance heartbeat failed", "instance_id", r.instanceID, "error", err)
	}
}

func (r *InstanceRegistry) unregister(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unregisterWait)
	defer cancel()

	if err := r.rdb.HDel(ctx, r.key, r.instanceID).Err(); err != nil {
		slog.Warn("Failed to unregister instance", "instance_id", r.instanceID, "error", err)
	}
}

// Instances returns every instance whose heartbeat is still fresh.
func (r *InstanceRegistry) Instances(ctx context.Context) ([]InstanceInfo, error) {
	entries, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read instances: %w", err)
	}

	cutoff := r.clock.Now().Add(-instanceTTL).Unix()
	infos := []InstanceInfo{}
	for _, data := range entries {
		var info InstanceInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			continue
		}
		if info.Timestamp > cutoff {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// ActiveInstances counts instances with a fresh heartbeat.
func (r *InstanceRegistry) ActiveInstances(ctx context.Context) (int, error) {
	infos, err := r.Instances(ctx)
	if err != nil {
		return 0, err
	}
	return len(infos), nil
}
