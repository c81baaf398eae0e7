// Package capability resolves capability names to executable implementations.
//
// Capabilities are the only components permitted to perform external I/O;
// workers and the coordinator never do I/O directly. A static set is
// registered at process start via [Registry.Register]. At runtime a worker
// may extend its own capability set through the distinguished self-extend
// capability: new implementations are submitted as Lua source, compiled and
// run inside a closed sandbox ([Extender]), and registered scoped to the
// current execution ([Scope]). Promotion to the global registry is a
// separate, audited operation, never an automatic side effect.
//
// The sandbox fails closed: an Extender cannot be constructed without a
// valid policy, and a dynamic capability that touches a forbidden module
// (os, io, package, debug, ...) fails with SANDBOX_VIOLATION and its
// registration is discarded.
package capability
