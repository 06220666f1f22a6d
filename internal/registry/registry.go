// Package registry tracks which WebSocket connections belong to which user, session,
// and channel.
//
// Membership is written to the shared store so every process can resolve cross-process
// counts, and mirrored in a local index so the pub/sub relay can dispatch incoming
// messages to this process's own connections without a store round trip.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/BjornMelin/tripsage-ai-sub023/internal/keyspace"
	"github.com/BjornMelin/tripsage-ai-sub023/internal/metrics"
)

// Commands is the subset of redis.Client the registry uses.
type Commands interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Info is one live connection's metadata.
type Info struct {
	ConnectionID string
	UserID       string
	SessionID    string
	Channels     []string
	ConnectedAt  time.Time
}

// Registry maps connections to their owners and channel memberships. A nil Commands
// puts the registry in local-only mode: the shared store is skipped and every lookup
// answers from the local index.
type Registry struct {
	rdb   Commands
	ks    keyspace.Keyspace
	clock clockwork.Clock

	mu        sync.RWMutex
	conns     map[string]*Info
	byUser    map[string]map[string]struct{}
	bySession map[string]map[string]struct{}
	byChannel map[string]map[string]struct{}
}

// New creates a registry. rdb may be nil for single-process deployments.
func New(rdb Commands, ks keyspace.Keyspace, clock clockwork.Clock) *Registry {
	return &Registry{
		rdb:       rdb,
		ks:        ks,
		clock:     clock,
		conns:     make(map[string]*Info),
		byUser:    make(map[string]map[string]struct{}),
		bySession: make(map[string]map[string]struct{}),
		byChannel: make(map[string]map[string]struct{}),
	}
}

// Register records a connection for a user, optionally bound to a session and an
// initial set of channels. Re-registering an existing connection ID overwrites the
// previous registration.
func (r *Registry) Register(ctx context.Context, connectionID, userID, sessionID string, channels []string) error {
	info := &Info{
		ConnectionID: connectionID,
		UserID:       userID,
		SessionID:    sessionID,
		Channels:     append([]string(nil), channels...),
		ConnectedAt:  r.clock.Now(),
	}

	r.mu.Lock()
	if old, ok := r.conns[connectionID]; ok {
		r.removeLocal(old)
		if err := r.removeShared(ctx, old); err != nil {
			slog.Warn("Failed to clear stale registration", "connection_id", connectionID, "error", err)
		}
	}
	r.addLocal(info)
	r.mu.Unlock()

	metrics.RegistryLocalConnections.Set(float64(r.LocalConnectionCount()))

	if r.rdb == nil {
		return nil
	}
	if err := r.writeShared(ctx, info); err != nil {
		return fmt.Errorf("failed to register connection %s: %w", connectionID, err)
	}
	slog.Debug("Connection registered", "connection_id", connectionID, "user_id", userID)
	return nil
}

// Unregister removes a connection everywhere it is referenced. Unknown connection IDs
// are a silent no-op: WebSocket teardown races produce double-unregisters routinely.
func (r *Registry) Unregister(ctx context.Context, connectionID string) error {
	r.mu.Lock()
	info, ok := r.conns[connectionID]
	if ok {
		r.removeLocal(info)
	}
	r.mu.Unlock()

	if !ok && r.rdb != nil {
		// Another process may own this connection's record.
		stored, err := r.readShared(ctx, connectionID)
		if err != nil {
			return err
		}
		info = stored
	}
	if info == nil {
		return nil
	}

	metrics.RegistryLocalConnections.Set(float64(r.LocalConnectionCount()))

	if r.rdb == nil {
		return nil
	}
	if err := r.removeShared(ctx, info); err != nil {
		return fmt.Errorf("failed to unregister connection %s: %w", connectionID, err)
	}
	slog.Debug("Connection unregistered", "connection_id", connectionID)
	return nil
}

// Subscribe adds a connection to a channel.
func (r *Registry) Subscribe(ctx context.Context, connectionID, channel string) error {
	r.mu.Lock()
	set, ok := r.byChannel[channel]
	if !ok {
		set = make(map[string]struct{})
		r.byChannel[channel] = set
	}
	set[connectionID] = struct{}{}
	info, known := r.conns[connectionID]
	if known {
		info.Channels = appendUnique(info.Channels, channel)
	}
	r.mu.Unlock()

	if r.rdb == nil {
		return nil
	}
	if err := r.rdb.SAdd(ctx, r.ks.Channel(channel), connectionID).Err(); err != nil {
		return fmt.Errorf("failed to subscribe %s to channel %s: %w", connectionID, channel, err)
	}
	if known {
		r.syncChannelsField(ctx, connectionID)
	}
	return nil
}

// Unsubscribe removes a connection from a channel. Unsubscribing the last member
// drops the channel from the local index entirely.
func (r *Registry) Unsubscribe(ctx context.Context, connectionID, channel string) error {
	r.mu.Lock()
	if set, ok := r.byChannel[channel]; ok {
		delete(set, connectionID)
		if len(set) == 0 {
			delete(r.byChannel, channel)
		}
	}
	info, known := r.conns[connectionID]
	if known {
		info.Channels = remove(info.Channels, channel)
	}
	r.mu.Unlock()

	if r.rdb == nil {
		return nil
	}
	if err := r.rdb.SRem(ctx, r.ks.Channel(channel), connectionID).Err(); err != nil {
		return fmt.Errorf("failed to unsubscribe %s from channel %s: %w", connectionID, channel, err)
	}
	if known {
		r.syncChannelsField(ctx, connectionID)
	}
	return nil
}

// syncChannelsField rewrites the stored channels list after a subscription change so
// that unregistration from another process cleans up the right channel sets.
func (r *Registry) syncChannelsField(ctx context.Context, connectionID string) {
	r.mu.RLock()
	info, ok := r.conns[connectionID]
	var channels []string
	if ok {
		channels = append([]string(nil), info.Channels...)
	}
	r.mu.RUnlock()
	if !ok {
		return
	}

	raw, err := json.Marshal(channels)
	if err != nil {
		return
	}
	if err := r.rdb.HSet(ctx, r.ks.Connection(connectionID), "channels", string(raw)).Err(); err != nil {
		slog.Warn("Failed to sync channels field", "connection_id", connectionID, "error", err)
	}
}

// Count returns how many connections a target currently has. User and session counts
// come from the shared store (cross-process); channel counts use the local view, which
// is what delivery diagnostics need. Unknown target types count zero, never error.
func (r *Registry) Count(ctx context.Context, targetType, targetID string) (int, error) {
	switch targetType {
	case "user":
		return r.sharedCount(ctx, r.ks.User(targetID), r.byUser, targetID)
	case "session":
		return r.sharedCount(ctx, r.ks.Session(targetID), r.bySession, targetID)
	case "channel":
		r.mu.RLock()
		defer r.mu.RUnlock()
		return len(r.byChannel[targetID]), nil
	case "connection":
		r.mu.RLock()
		defer r.mu.RUnlock()
		if _, ok := r.conns[targetID]; ok {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, nil
	}
}

// LocalTargets resolves a target to the connection IDs this process hosts.
func (r *Registry) LocalTargets(targetType, targetID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch targetType {
	case "connection":
		if _, ok := r.conns[targetID]; ok {
			return []string{targetID}
		}
		return nil
	case "user":
		return keys(r.byUser[targetID])
	case "session":
		return keys(r.bySession[targetID])
	case "channel":
		return keys(r.byChannel[targetID])
	case "broadcast":
		ids := make([]string, 0, len(r.conns))
		for id := range r.conns {
			ids = append(ids, id)
		}
		return ids
	default:
		return nil
	}
}

// LocalConnectionCount returns the number of connections hosted by this process.
func (r *Registry) LocalConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) sharedCount(ctx context.Context, key string, local map[string]map[string]struct{}, id string) (int, error) {
	if r.rdb == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return len(local[id]), nil
	}
	n, err := r.rdb.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count members of %s: %w", key, err)
	}
	return int(n), nil
}

// addLocal and removeLocal mutate the local index. Callers hold r.mu.
func (r *Registry) addLocal(info *Info) {
	r.conns[info.ConnectionID] = info
	addMember(r.byUser, info.UserID, info.ConnectionID)
	if info.SessionID != "" {
		addMember(r.bySession, info.SessionID, info.ConnectionID)
	}
	for _, ch := range info.Channels {
		addMember(r.byChannel, ch, info.ConnectionID)
	}
}

func (r *Registry) removeLocal(info *Info) {
	delete(r.conns, info.ConnectionID)
	dropMember(r.byUser, info.UserID, info.ConnectionID)
	if info.SessionID != "" {
		dropMember(r.bySession, info.SessionID, info.ConnectionID)
	}
	for _, ch := range info.Channels {
		dropMember(r.byChannel, ch, info.ConnectionID)
	}
}

func (r *Registry) writeShared(ctx context.Context, info *Info) error {
	channels, err := json.Marshal(info.Channels)
	if err != nil {
		return err
	}
	fields := map[string]interface{}{
		"connection_id": info.ConnectionID,
		"user_id":       info.UserID,
		"session_id":    info.SessionID,
		"channels":      string(channels),
		"connected_at":  strconv.FormatInt(info.ConnectedAt.Unix(), 10),
	}
	if err := r.rdb.HSet(ctx, r.ks.Connection(info.ConnectionID), fields).Err(); err != nil {
		return err
	}
	if err := r.rdb.SAdd(ctx, r.ks.User(info.UserID), info.ConnectionID).Err(); err != nil {
		return err
	}
	if info.SessionID != "" {
		if err := r.rdb.SAdd(ctx, r.ks.Session(info.SessionID), info.ConnectionID).Err(); err != nil {
			return err
		}
	}
	for _, ch := range info.Channels {
		if err := r.rdb.SAdd(ctx, r.ks.Channel(ch), info.ConnectionID).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) readShared(ctx context.Context, connectionID string) (*Info, error) {
	fields, err := r.rdb.HGetAll(ctx, r.ks.Connection(connectionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read connection %s: %w", connectionID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	info := &Info{
		ConnectionID: connectionID,
		UserID:       fields["user_id"],
		SessionID:    fields["session_id"],
	}
	if raw := fields["channels"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &info.Channels); err != nil {
			slog.Warn("Malformed channels field in connection record", "connection_id", connectionID, "error", err)
		}
	}
	if raw := fields["connected_at"]; raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			info.ConnectedAt = time.Unix(secs, 0)
		}
	}
	return info, nil
}

func (r *Registry) removeShared(ctx context.Context, info *Info) error {
	if r.rdb == nil {
		return nil
	}
	if err := r.rdb.SRem(ctx, r.ks.User(info.UserID), info.ConnectionID).Err(); err != nil {
		return err
	}
	if info.SessionID != "" {
		if err := r.rdb.SRem(ctx, r.ks.Session(info.SessionID), info.ConnectionID).Err(); err != nil {
			return err
		}
	}
	for _, ch := range info.Channels {
		if err := r.rdb.SRem(ctx, r.ks.Channel(ch), info.ConnectionID).Err(); err != nil {
			return err
		}
	}
	return r.rdb.Del(ctx, r.ks.Connection(info.ConnectionID)).Err()
}

func addMember(m map[string]map[string]struct{}, key, member string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[member] = struct{}{}
}

func dropMember(m map[string]map[string]struct{}, key, member string) {
	if set, ok := m[key]; ok {
		delete(set, member)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}

func keys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, item := range list {
		if item == v {
			return list
		}
	}
	return append(list, v)
}

func remove(list []string, v string) []string {
	for i, item := range list {
		if item == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
