// Package scheduler turns registered functions into durable, recurring task
// rows and drives them through their lifecycle.
//
// The package is responsible for:
//   - validating schedule parameters and computing trigger times
//   - seeding the first row when a registered function is first called
//   - scanning pending rows on a fixed tick and claiming them
//   - firing claimed rows at start_at through the task engine
//   - recording outcomes and inserting the follow-up occurrence
//
// Execution capacity belongs to internal/task/engine; persistence belongs to
// internal/storage.
package scheduler
