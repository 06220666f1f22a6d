// Package keyspace computes the Redis keys and pub/sub topics used by the broadcast core.
//
// All cross-process state lives under a single configurable namespace prefix so that
// several deployments can share one Redis instance without colliding.
package keyspace

import "strings"

// Keyspace builds namespaced keys and topics. The zero value is not usable; construct
// with New.
type Keyspace struct {
	ns string
}

// New creates a Keyspace with the given namespace prefix (e.g. "tripsage:websocket").
func New(namespace string) Keyspace {
	return Keyspace{ns: namespace}
}

// Queue returns the sorted-set key holding pending broadcast messages.
func (k Keyspace) Queue() string {
	return k.ns + ":broadcast"
}

// User returns the set key holding a user's connection IDs.
func (k Keyspace) User(userID string) string {
	return k.ns + ":users:" + userID
}

// Session returns the set key holding a session's connection IDs.
func (k Keyspace) Session(sessionID string) string {
	return k.ns + ":sessions:" + sessionID
}

// Connection returns the hash key holding a connection's metadata.
func (k Keyspace) Connection(connectionID string) string {
	return k.ns + ":connections:" + connectionID
}

// Channel returns the set key holding a channel's connection IDs.
func (k Keyspace) Channel(channel string) string {
	return k.ns + ":channel:" + channel
}

// Instances returns the hash key holding per-instance heartbeats.
func (k Keyspace) Instances() string {
	return k.ns + ":instances"
}

// Topic returns the pub/sub topic for a target. Messages addressed to everyone carry
// no target ID and publish on the bare target-type topic.
func (k Keyspace) Topic(targetType, targetID string) string {
	if targetID == "" {
		return k.ns + ":broadcast:" + targetType
	}
	return k.ns + ":broadcast:" + targetType + ":" + targetID
}

// Pattern returns the wildcard pattern matching every broadcast topic in this namespace.
func (k Keyspace) Pattern() string {
	return k.ns + ":broadcast:*"
}

// ParseTopic splits a topic produced by Topic back into its target type and ID.
// Returns ok=false for topics outside this namespace. Target IDs may themselves
// contain colons, so only the first separator after the type is significant.
func (k Keyspace) ParseTopic(topic string) (targetType, targetID string, ok bool) {
	prefix := k.ns + ":broadcast:"
	rest, found := strings.CutPrefix(topic, prefix)
	if !found || rest == "" {
		return "", "", false
	}
	targetType, targetID, _ = strings.Cut(rest, ":")
	return targetType, targetID, true
}
