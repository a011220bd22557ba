// Package scheduler runs background tasks on a fixed pool of workers.
//
// Tasks run in submission order. [Scheduler.SubmitToFront] lets urgent work jump the queue.
// A [Scheduler] owns one live generation of workers at a time: [Scheduler.Reset] swaps in a
// fresh generation without waiting for the old one, which keeps draining until it notices its
// context was canceled. [Scheduler.Shutdown] joins every generation it ever started.
//
// Workers either exit when the queue runs dry and are restarted by the next submission
// ([ExitWhenIdle]), or keep polling ([PollWhenIdle]).
package scheduler
