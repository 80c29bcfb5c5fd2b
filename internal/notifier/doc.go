// Package notifier delivers ticker alerts to the OS and to chat.
//
// A Dispatcher accepts notifications without blocking, rate-limits them and
// fans each one out to every Deliverer from a small worker pool. Delivery is
// best-effort: failures are logged and published, never retried.
package notifier
