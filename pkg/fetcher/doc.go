/*
Package fetcher orchestrates a run. A recipe pairs one bundle loader
with a set of locators; the fetcher seeds a bounded queue from the
plan's initial requests plus one poll of every locator, then spawns
workers that dequeue, load, and report.

Coordination is deliberately simple: one bounded channel as the work
queue, one mutex serializing every locator touch (polling, completion
callbacks, counters), and one latched done channel for termination. An
idle worker waits five seconds on the queue; on timeout it polls every
locator under the mutex, and when the queue, the locators, and the
in-flight count are all empty the run is declared complete.

Per-request failures are recorded and reported to locators; they never
kill a worker. Cancellation of the run context stops workers at the
next suspension point.
*/
package fetcher
