/*
Package events provides an in-memory broker for collection lifecycle
events.

Platform managers and the orchestrator publish events as tasks finish,
abort, or fail validation and as platform quotas halt and release. The
broker fans each event out to all subscribers over buffered channels;
publishing never blocks, and a subscriber that falls behind misses
events rather than stalling collection.
*/
package events
