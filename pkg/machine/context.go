// Package machine models the host facts a resolution run is evaluated
// against. A Context is captured once per backup/restore invocation and
// passed by value through the resolver; it is never mutated after capture.
package machine

import (
	"time"
)

// Context is an immutable snapshot of host facts.
type Context struct {
	// MachineName is the host name as reported by the OS.
	MachineName string `json:"machine_name"`

	// UserName is the name of the user the process runs as.
	UserName string `json:"user_name"`

	// UserProfile is the home directory of that user.
	UserProfile string `json:"user_profile"`

	// OSVersion is the OS name and release (e.g. "Ubuntu 24.04").
	OSVersion string `json:"os_version"`

	// Architecture is the machine architecture (e.g. "amd64").
	Architecture string `json:"architecture"`

	// Domain is the DNS domain the host belongs to, if any.
	Domain string `json:"domain,omitempty"`

	// EnvironmentVariables holds the process environment at capture time.
	EnvironmentVariables map[string]string `json:"environment_variables"`

	// Hardware describes the host hardware.
	Hardware HardwareInfo `json:"hardware"`

	// Software describes the host software baseline.
	Software SoftwareInfo `json:"software"`

	// Timestamp is when the snapshot was captured.
	Timestamp time.Time `json:"timestamp"`
}

// HardwareInfo contains hardware facts.
type HardwareInfo struct {
	CPUModel string    `json:"cpu_model,omitempty"`
	CPUCores int       `json:"cpu_cores"`
	MemoryMB int64     `json:"memory_mb"`
	Displays []Display `json:"displays,omitempty"`
}

// Display describes an attached display.
type Display struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// HighResolution reports whether the display is at least 2560 pixels wide.
func (d Display) HighResolution() bool {
	return d.Width >= 2560
}

// SoftwareInfo contains software facts.
type SoftwareInfo struct {
	OSName        string `json:"os_name"`
	KernelVersion string `json:"kernel_version,omitempty"`
	GoVersion     string `json:"go_version,omitempty"`
}

// Env returns the value of an environment variable from the snapshot.
// The second return reports whether the variable was set at capture time.
func (c *Context) Env(name string) (string, bool) {
	v, ok := c.EnvironmentVariables[name]
	return v, ok
}

// HasHighResolutionDisplay reports whether any captured display is
// high-resolution. Used by the builtin "high_resolution_display" predicate.
func (c *Context) HasHighResolutionDisplay() bool {
	for _, d := range c.Hardware.Displays {
		if d.HighResolution() {
			return true
		}
	}
	return false
}
