package online

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/feature-store/internal/model"
)

// RedisStore implements Store as one hash per entity. Feature values live
// under their feature_id; bookkeeping fields use a reserved "_" prefix:
// "_asof:<feature_id>" holds the value's as_of, "_updated" the row's
// last_updated.
type RedisStore struct {
	client *redis.Client
}

// NewRedis creates a RedisStore and verifies connectivity.
func NewRedis(ctx context.Context, addr, password string, dbNum int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       dbNum,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, eris.Wrapf(err, "online: redis ping %s", addr)
	}
	return &RedisStore{client: client}, nil
}

func vectorKey(entityType, entityID string) string {
	return "fv:" + entityType + ":" + entityID
}

// GetVector returns the entity's vector or model.ErrNotFound.
func (s *RedisStore) GetVector(ctx context.Context, entityType, entityID string) (*model.OnlineVector, error) {
	fields, err := s.client.HGetAll(ctx, vectorKey(entityType, entityID)).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "online: redis hgetall %s/%s", entityType, entityID)
	}
	if len(fields) == 0 {
		return nil, eris.Wrapf(model.ErrNotFound, "online: entity %s/%s", entityType, entityID)
	}

	vec := &model.OnlineVector{
		EntityID:   entityID,
		EntityType: entityType,
		Values:     make(map[string]any),
		AsOf:       make(map[string]time.Time),
	}
	for field, raw := range fields {
		switch {
		case field == "_updated":
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return nil, eris.Wrapf(err, "online: parse _updated for %s/%s", entityType, entityID)
			}
			vec.LastUpdated = t
		case strings.HasPrefix(field, "_asof:"):
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return nil, eris.Wrapf(err, "online: parse as_of field %q", field)
			}
			vec.AsOf[strings.TrimPrefix(field, "_asof:")] = t
		default:
			var v any
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				return nil, eris.Wrapf(err, "online: unmarshal value for %s", field)
			}
			vec.Values[field] = v
		}
	}
	return vec, nil
}

// Apply merges non-stale updates into the entity's hash in one HSET.
func (s *RedisStore) Apply(ctx context.Context, entityType, entityID string, updates []Update) (int, int, error) {
	if len(updates) == 0 {
		return 0, 0, nil
	}

	key := vectorKey(entityType, entityID)

	// Read the per-feature as_of fields to filter stale updates. The sync
	// worker is the only writer and shards by entity, so read-then-write is
	// race-free per key.
	asOfFields := make([]string, 0, len(updates))
	for _, u := range updates {
		asOfFields = append(asOfFields, "_asof:"+u.FeatureID)
	}
	priorRaw, err := s.client.HMGet(ctx, key, asOfFields...).Result()
	if err != nil {
		return 0, 0, eris.Wrapf(err, "online: redis hmget %s", key)
	}

	prior := make(map[string]time.Time, len(updates))
	for i, raw := range priorRaw {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			continue
		}
		prior[updates[i].FeatureID] = t
	}

	fields := make(map[string]any, len(updates)*2+1)
	newest := make(map[string]time.Time, len(updates))
	stale := 0
	for _, u := range updates {
		if t, ok := prior[u.FeatureID]; ok && !u.AsOf.After(t) {
			stale++
			continue
		}
		if t, ok := newest[u.FeatureID]; ok && !u.AsOf.After(t) {
			stale++
			continue
		}
		valueJSON, err := json.Marshal(u.Value)
		if err != nil {
			return 0, stale, eris.Wrapf(err, "online: marshal value for %s", u.FeatureID)
		}
		fields[u.FeatureID] = string(valueJSON)
		fields["_asof:"+u.FeatureID] = u.AsOf.UTC().Format(time.RFC3339Nano)
		newest[u.FeatureID] = u.AsOf
	}
	if len(newest) == 0 {
		return 0, stale, nil
	}
	fields["_updated"] = time.Now().UTC().Format(time.RFC3339Nano)

	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return 0, stale, eris.Wrapf(err, "online: redis hset %s", key)
	}
	return len(newest), stale, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
