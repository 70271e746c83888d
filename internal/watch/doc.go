// Package watch turns GitHub activity into chat notifications.
//
// A Registry holds one Poller per tracked resource. Each Poller owns the
// cursors and the processed-event set of its resource and registers one
// periodic task per stream on the shared scheduler. Ticks and manual checks
// both run on the shared task engine; a per-stream mutex keeps them from
// interleaving.
//
// Items are notified at most once: a key is added to the processed set as
// soon as the notifier has taken the item, whether or not the send later
// succeeds.
package watch
