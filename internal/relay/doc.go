// Package relay provides the client boundary to the upstream conversational
// relay that owns durable thread and message state.
//
// The relay speaks JSON over HTTP with bearer authentication. Response
// shapes vary between relay deployments (wrapped vs bare lists, turn ids
// under different keys, assistant text as a string or as content chunks),
// so parsing is tolerant rather than schema-bound.
//
// Transport failures surface as ErrUnreachable; non-2xx responses surface
// as *StatusError. Components translate both into their own typed outcomes
// rather than passing them to clients.
package relay
