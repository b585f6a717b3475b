/*
Package parser turns declarative task payloads into concrete collection
tasks.

A payload is a single task object, a task group object, or a list mixing
both. Groups expand into one task per (timestamp, parameter tuple) pair:
the outer loop walks the time grid from start to end in interval steps,
the inner loop walks the Cartesian product of the variable parameters in
document key order. Expanded tasks are named "<group_prefix>_<index>".
Multi-platform groups expand once and are copied per extra platform with
task names shared across platforms.

A payload matching neither schema is rejected with both validation
traces attached, never silently accepted.
*/
package parser
