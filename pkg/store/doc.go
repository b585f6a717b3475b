/*
Package store provides persistence for collection tasks and collected posts.

Two stores live here:

  - SQLiteStore: the per-platform relational store holding the collection_task,
    post, user, and comment tables. One file per platform; the owning platform
    manager is the only writer. All mutations go through scoped transactions
    with guaranteed release.
  - MetaStore: a small bbolt catalog mapping platform symbols to store file
    locations, used by the orchestrator at boot and by the status reports.

Deduplication contract: post platform_id values are unique within a store.
InsertPosts diffs the incoming batch against the stored id set inside the
insert transaction and drops rows that lose a uniqueness race, so observers
never see a DONE task without its posts or posts without their DONE task
(transient tasks excepted: their row is deleted and their posts keep a null
back-reference).
*/
package store
