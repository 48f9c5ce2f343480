// Package harness runs reconciliation scenarios against an in-memory store.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: partial_sheet
//	description: "A sheet covering one unit leaves the others alone"
//	course: cbse-maths-10
//	policy:
//	  orphans: {topic: delete}
//	seed:
//	  - units:
//	      - name: Algebra
//	        chapters:
//	          - name: Linear Equations
//	            topics:
//	              - name: One Variable
//	                lessons:
//	                  - slug: cbse-maths-10-001
//	steps:
//	  - op: sync
//	    csv: |
//	      Sl. No.,unit_name,chapter_name,topic_name,lesson_id,lesson_name,tags
//	      1,Algebra,Linear Equations,One Variable,cbse_maths_10_001,Lines,
//	    expect: {status: ok, state: Done}
//	assertions:
//	  - type: node_count
//	    level: topic
//	    count: 1
//
// A seed entry without a course field seeds the scenario course; entries
// naming another course create it. Nodes are created in document order,
// so the first of two same-named siblings is the earliest.
//
// # Assertion Types
//
//   - node_count: number of nodes at level in the scenario course
//   - node: a node exists at path (absent: true inverts), optionally with order
//   - lesson_count: number of lessons in the scenario course
//   - lesson: a lesson with slug exists under topic path, optionally with order, preview, title, tags
//   - issue_count: number of issues with code in a step's report
//   - stage: counters of one level in a step's report
//   - states: the exact state history of a step
//
// Step-scoped assertions default to the last step.
//
// # Invariants
//
// After every step the harness checks the structural invariants listed in
// Invariants: parents exist, lessons reference a topic of their chapter,
// orders are positive, and, after clean runs, slugs and natural keys are
// unique.
//
// # Deterministic Testing
//
// Every scenario runs on a fresh memstore with the deterministic clock and
// sequential IDs from testutil, so reports and trees are reproducible and
// can be compared with golden files under testdata/golden.
package harness
