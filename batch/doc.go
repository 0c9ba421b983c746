/*
Package batch implements the request batcher: time- and size-triggered
grouping of requests sharing a type, so the scheduler can dispatch a single
executor call for several callers at once.

A Batch opens on the first eligible arrival for a given type and closes
exactly once, on whichever of MaxBatchSize or BatchDelay fires first. If the
handler fails or panics, every request in the batch receives the same
error, completed in arrival order.
*/
package batch
