// Package turns drives the submit-and-wait protocol for chat turns.
//
// Each submission gets a locally assigned message id and a lifecycle:
//
//	pending -> sent -> complete | failed | timedOut
//
// pending is recorded before any network call. A submission error is
// terminal (failed) for the attempt; the engine never retries on its
// own. timedOut means the wait budget ran out, not that the turn was
// cancelled: a detached watcher keeps polling so a later completion is
// still observed by status polls.
package turns
