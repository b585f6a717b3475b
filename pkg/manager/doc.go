/*
Package manager implements the per-platform collection loop.

A PlatformManager owns one platform end to end: its client adapter, its
sqlite store, and its quota state. Task intake validates configs against
the adapter and persists rejects as INVALID_CONF. A collection pass
drains the pending queue FIFO, pacing between tasks with randomized
delay, and reacts to the adapter's typed errors:

  - quota errors install a persisted halt, return the running task to
    INIT, and end the pass
  - transient collection errors abort the task and continue
  - fatal errors abort the task and propagate to the orchestrator
  - cancellation returns the in-flight task to INIT and keeps results
    already committed

Platforms are isolated: no platform's failure, halt, or pacing affects
another platform's pass.
*/
package manager
