// Package gateway wires the engine components (thread cache, delta
// poller, conversation mapper, turn coordinator, notification forwarder)
// behind the client-facing HTTP API.
//
// # Endpoints
//
//	GET    /api/health
//	GET    /api/diagnostics
//	GET    /api/threads?refresh=true
//	GET    /api/threads/{id}/messages?after=<cursor>
//	POST   /api/threads/{id}/turns
//	POST   /api/threads/{id}/archive
//	GET    /api/threads/{id}/conversation
//	GET    /api/conversations?limit=<n>
//	POST   /api/conversations/resolve
//	GET    /api/conversations/{externalID}
//	DELETE /api/conversations/{externalID}
//	GET    /api/messages/{id}
//	POST   /api/notify
//
// Clients never see relay credentials or raw transport errors; upstream
// failures map to stable JSON error bodies (502 "relay unavailable",
// 502 "poll failed") and per-message lifecycle states.
package gateway
