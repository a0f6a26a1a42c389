// Package poller implements cursor-based delta polling of thread messages.
// Clients and the turn coordinator both use it to observe new messages
// without refetching full thread history.
package poller
