// Package hub bridges the upstream home-automation hub.
//
// It provides three pieces:
//
//   - Client: the REST API (entity reads and writes, service calls, health)
//   - Dialer/Stream: the WebSocket event stream (auth, subscribe, read)
//   - Manager: keeps one stream session alive and feeds a Sink
//
// # Streaming protocol
//
//	hub → auth_required
//	     → {"type":"auth","access_token":"..."}
//	hub → auth_ok | auth_invalid
//	     → {"id":1,"type":"subscribe_events"}
//	hub → {"id":1,"type":"result","success":true}
//	hub → {"id":1,"type":"event","event":{...}}   (repeated)
//
// Pings are sent every PingInterval so an idle session keeps resetting the
// read deadline. A read that times out is treated as a lost session.
//
// # Reconnection
//
// After an unexpected closure the Manager waits ReconnectBase, then
// 2*ReconnectBase, and so on up to ReconnectMax, retrying forever. An
// auth_invalid reply is the only fatal outcome: it is delivered on Fatal()
// and the Manager stops.
//
// After the first session the Manager pulls all states and hands them to
// Sink.Warm. After a later session it does the same through Sink.Resync,
// but only when the outage exceeded StalenessThreshold.
//
// # Errors
//
// REST methods return ErrEntityNotFound for 404, ErrRequestFailed for
// transport failures and 5xx, and ErrMalformedResponse when a payload is
// missing entity_id, state, attributes, last_changed, or last_updated.
package hub
