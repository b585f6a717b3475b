/*
Package orchestrator supervises the platform managers and drives the
periodic collection loop.

Construction opens the platform catalog, builds one manager per
configured platform through the adapter registry, and recovers tasks
left RUNNING by an abrupt shutdown. A collection pass drains the inbound
task directory and then progresses every active platform concurrently;
platforms fail, halt, and pace independently, and a fatal platform error
cancels the sibling passes and ends the loop.
*/
package orchestrator
