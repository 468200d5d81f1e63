package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/health"
)

// Options configures the ops listener. Zero Port means DefaultPort.
type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// OnPanic runs after a handler panic is recovered, main wires the panic counter here
	OnPanic func()
}
