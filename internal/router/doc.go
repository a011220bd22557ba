// Package router hands fetch results to the database writer one section at a time.
//
// Each section gets its own sub-queue. The [Router] only serves the oldest registered section
// and moves on once that section's sealed total has been delivered. Sections whose items must be
// written in listing order use an [OrderedQueue], which releases items strictly by index no
// matter in which order concurrent fetch workers complete them.
package router
