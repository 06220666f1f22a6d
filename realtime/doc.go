// Package realtime implements the real-time broadcast core: it fans application
// events (chat messages, agent status, price alerts, system announcements) out to
// WebSocket-connected clients, scaled across server processes through a shared
// Redis-compatible store.
//
// Messages flow producer -> Broadcaster -> dedup check -> priority queue -> queue
// processor -> pub/sub topic -> relay -> local delivery. Delivery is best-effort:
// transient store failures surface as a false return plus a typed error, never a
// panic, and a dropped notification is an acceptable degradation for this domain.
package realtime
