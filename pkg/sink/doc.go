// Package sink forwards newly stored posts to an external HTTP endpoint.
// Delivery is best effort and never blocks or fails collection.
package sink
