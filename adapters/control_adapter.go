// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control over the control package:
// resolved configuration, dispatcher metrics and debug probes.

package adapters

import (
	"github.com/momentics/hioload-dispatch/api"
	"github.com/momentics/hioload-dispatch/control"
)

// ControlAdapter exposes one dispatcher's configuration and runtime state.
type ControlAdapter struct {
	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
}

var _ api.Control = (*ControlAdapter)(nil)

// NewControlAdapter snapshots cfg and reports metrics from mr. A nil mr
// gets a private registry.
func NewControlAdapter(cfg control.Config, mr *control.MetricsRegistry) *ControlAdapter {
	if mr == nil {
		mr = control.NewMetricsRegistry()
	}
	adapter := &ControlAdapter{
		config:  control.NewConfigStore(),
		metrics: mr,
		debug:   control.NewDebugProbes(),
	}
	adapter.config.SetConfig(cfg.Map())
	control.RegisterPlatformProbes(adapter.debug)
	return adapter
}

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

// Stats merges metrics with sampled probes; probe keys get a "debug."
// prefix.
func (c *ControlAdapter) Stats() map[string]any {
	combined := c.metrics.GetSnapshot()
	for k, v := range c.debug.DumpState() {
		combined["debug."+k] = v
	}
	return combined
}

// Metrics returns the registry components publish to.
func (c *ControlAdapter) Metrics() *control.MetricsRegistry {
	return c.metrics
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}
