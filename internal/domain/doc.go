// Package domain defines the core types of the delivery engine.
//
// Types in this package are pure value objects: messages, provider
// configuration, send results, bulk job shapes and error kinds. They are the
// shared language between the resolver, the pool, the adapters and the bulk
// worker.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/YAML tags are allowed (they're metadata, not behavior)
//   - Validation methods are allowed (they're pure functions on the type)
//   - Constants and enums belong here
package domain
