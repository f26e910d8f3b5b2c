// Package notifier sends operator alerts when scheduled tasks fail.
//
// The service subscribes to task.failed events on the event bus, formats a
// short message per failure and delivers it through a Sender (Telegram by
// default). Delivery is asynchronous, rate limited, retried with backoff and
// deduplicated per function so a task failing every few seconds does not
// flood the chat.
//
// A small in-memory history of sent alerts is kept for the health endpoint.
package notifier
