// Package watch keeps pending payments under observation.
//
// A Monitor owns the watch registry: for each PENDING payment at most
// one ledger subscription on its destination address plus one deadline
// timer. Inbound transactions are broken into payment-shaped operations
// and offered to the lifecycle manager; the deadline timer asks the
// manager to time the payment out. The Sweeper periodically times out
// any expired PENDING record the timers missed, and Recover rebuilds
// the registry from the store at startup.
//
// The registry is a cache. The store decides status, and every call
// into the manager is idempotent, so late or duplicate callbacks after
// a watch is released are harmless.
package watch
