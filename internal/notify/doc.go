// Package notify carries the console's outbound notifications (save, switch,
// close, refreshed) to the host. A non-blocking Hub batches events on a
// background goroutine and fans them out to pluggable sinks that log, count,
// publish or persist them.
package notify
