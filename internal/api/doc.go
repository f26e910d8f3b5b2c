// Package api serves the read-only HTTP surface:
//
//	GET /api/    every task record, as stored
//	GET /healthz liveness plus worker pool and scanner snapshots
package api
