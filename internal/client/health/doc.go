// Package health tracks whether the backend is reachable.
//
// A Prober asks the backend over the gRPC health-checking protocol; a Watcher
// polls it on an interval and calls back when the backend comes back online,
// which the client uses to retry a sync that previously failed.
package health
