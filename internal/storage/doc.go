// Package storage persists reconciliation state and activity points.
//
// It stores:
//   - Per-repository notified sets (pull request and issue URLs)
//   - Per-user activity points
//
// Drivers: memory (tests, dry runs), file (snapshot + journal), sqlite, mongo.
package storage
