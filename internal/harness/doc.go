// Package harness runs end-to-end AutoChain scenarios.
//
// A scenario declares one zap, the webhook events to ingest, injected
// faults and assertions. The harness wires the real ingest writer, outbox
// relay and stage executor over an in-memory SQLite store and the
// in-memory broker, then drives them step by step on one goroutine until
// no pending relay or unconsumed message remains.
//
// # Scenario Format
//
//	name: two_emails
//	description: "Both stages read the same payload snapshot"
//	zap:
//	  id: zap-1
//	  user: user-1
//	  actions:
//	    - type: email
//	      metadata: { email: "{email}", body: "Hi {name}" }
//	events:
//	  - payload: { email: ann@example.com, name: Ann }
//	faults:
//	  relay_publish_failures: 1
//	restart:
//	  after_messages: 1
//	assertions:
//	  - type: trace_count
//	    event: email
//	    count: 2
//	  - type: stage_sequence
//	    run: id-1
//	    stages: [0, 1]
//	  - type: final_state
//	    table: pending_relays
//	    expect: { count: 0 }
//
// # Deterministic Testing
//
// Run and relay ids come from a sequence generator ("id-1", "id-2", ...),
// store timestamps from a stepping clock and the broker has a single
// partition. The same scenario always produces the same trace, which is
// compared byte for byte against testdata/golden/{name}.golden.
package harness
