// Package convmap maintains the durable table mapping external
// conversation identifiers (for example a voice assistant's conversation
// id) to relay thread identifiers, so independent front-ends resume the
// same thread across process restarts.
package convmap
