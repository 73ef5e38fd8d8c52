// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime metrics and debug introspection for hioload-dispatch.
//
// Provides concurrent-safe state handling primitives including:
//   - Environment-derived configuration with snapshot reads
//   - Counters shared by the caller, the call loop and the restarter
//   - Named debug probes evaluated on demand
package control
