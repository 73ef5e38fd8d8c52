// File: api/control.go
// Package api defines Control interface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Control exposes the resolved configuration and runtime metrics.
type Control interface {
	GetConfig() map[string]any
	Stats() map[string]any
	RegisterDebugProbe(name string, fn func() any)
}
