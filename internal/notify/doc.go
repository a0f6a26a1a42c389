// Package notify forwards notification payloads to an external webhook.
// Delivery is one-shot and best-effort; the engine never depends on its
// success. Oversized text is truncated with an explicit marker so
// notification buses with size limits do not silently drop payloads.
package notify
