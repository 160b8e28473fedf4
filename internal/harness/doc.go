// Package harness runs relay scenarios.
//
// A scenario is a YAML file naming some stored nodes, a flow of inbound
// get and put messages, and assertions over what the relay published and
// what ended up in the store. Each run gets a fresh SQLite file, an
// in-process hub, a manual state clock and a real relay, so traces are
// deterministic and can be compared against golden files.
//
// Example scenario:
//
//	name: thing_update
//	description: Updating a thing's title fans the diff out per node.
//	setup:
//	  nab/things/42:
//	    data: {"#": nab/things/42/data}
//	  nab/things/42/data:
//	    title: Hello
//	flow:
//	  - id: p1
//	    put:
//	      nab/things/42/data:
//	        title: Bye
//	assertions:
//	  - type: published
//	    channel: gun/nodes/nab/things/42/data
//	  - type: final_state
//	    soul: nab/things/42/data
//	    expect:
//	      title: Bye
//
// A scenario may also declare things. Each is stored as a root node and
// a data node under the id its fields hash to, and "{ref}" anywhere in a
// soul, channel or expected message stands for that id:
//
//	things:
//	  - ref: hello
//	    kind: submission
//	    title: Hello
//	flow:
//	  - id: g1
//	    get: nab/things/{hello}
//
// Puts in the flow are stamped with the clock, which starts at 1000 for
// setup and moves forward by one for every step. A step may pin its own
// state instead.
package harness
