// Package orchestrator drives multi-agent task executions: a coordinator
// loop hands a shared context to one worker at a time, applies the worker's
// outcome (final result, handoff, or interrupt), and enforces the safety
// envelope around decentralized handoffs.
//
// Workers never talk to each other. They return instructions; the
// coordinator validates and applies them, so an invalid instruction can
// never corrupt the shared context. A sliding-window loop guard aborts
// executions that bounce between too few workers, and a hard handoff cap
// backs it up.
//
// Suspension is first-class: a worker can return an interrupt carrying
// questions for a human, the execution is persisted as SUSPENDED, and
// submitted answers resume it at the worker the interrupt named.
package orchestrator
