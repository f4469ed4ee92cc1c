// Package harness runs payment scenarios end to end against the real
// engine: SQLite store, lifecycle manager, watch registry, sweeper and
// event outbox, driven by an in-memory ledger and a fake clock.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: stream_confirms
//	description: "A matching stream payment confirms the order"
//	orders:
//	  - id: O1
//	    buyer: B1
//	    amount: "100"
//	    currency: USDC
//	    destination: DST1
//	flow:
//	  - do: initiate
//	    order: O1
//	  - do: submit
//	    tx:
//	      id: tx1
//	      source: SRC1
//	      ops:
//	        - to: DST1
//	          amount: "100"
//	          asset: USDC
//	    expect:
//	      status: CONFIRMED
//	assertions:
//	  - type: event_order
//	    events: [payment.initiated, payment.confirmed]
//	  - type: final_state
//	    order: O1
//	    status: CONFIRMED
//	    order_status: PAID
//
// # Steps
//
//   - initiate: start a payment for order (optional currency, timeout)
//   - submit: record a transaction and stream it to every destination
//   - deliver: stream a transaction to address only
//   - fail_stream: drop every subscription of address
//   - advance: move the clock by duration
//   - sweep: run one timeout sweep
//   - verify: manually verify the order's payment with candidate
//   - cancel_order: cancel an order before payment
//   - recover: rebuild the watch registry
//   - restart: shut down, reopen the database and recover
//
// # Assertion Types
//
//   - event_order: the named events appear in this order
//   - event_count: an event appears exactly count times
//   - final_state: the order's latest payment has the given status
//   - watch_count: the number of active watches
//
// # Determinism
//
// Every run starts at the same instant, numbers payments pay-0001,
// pay-0002 and delivers events synchronously, so the event trace is
// byte-for-byte reproducible and can be compared against golden files.
package harness
