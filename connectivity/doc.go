// Package connectivity keeps the node's network usable: it corrects the
// wall clock from NTP and periodically probes the uplink, resyncing time
// and reconnecting when failures are detected.
//
// The maintenance cadence is a ten-second tick grouped into windows of
// eight ticks. Probe failures accumulate; from the sixth tick of a window
// a pending failure triggers a time resync, and on the eighth tick the
// link is reconnected. A reconnect error ends the maintenance task, which
// ends the whole task group and restarts the node.
package connectivity
