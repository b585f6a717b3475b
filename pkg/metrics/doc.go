/*
Package metrics exposes Prometheus collectors for the collection
pipeline: task throughput by final status, post found/added counts,
quota halt state, collection durations, and API request totals.

All collectors are registered at package init and served through
Handler on the API server's /metrics endpoint.
*/
package metrics
