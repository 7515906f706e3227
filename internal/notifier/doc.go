// Package notifier delivers queued notifications.
//
// The Dispatcher polls the store for unsent rows, sends each through a
// transport.TextSender, and then marks it sent. Delivery is at-least-once:
// a crash between send and mark resends the row on the next run. A
// permanent failure (blocked bot, deleted account) deletes the row. Any
// other failure leaves it for the next tick.
//
// A row that has started sending is finished even if the loop is being
// cancelled, so shutdown never leaves a delivered row unmarked when it
// could be marked.
package notifier
