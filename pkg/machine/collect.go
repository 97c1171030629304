package machine

import (
	"fmt"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Collector captures host facts into a Context snapshot.
type Collector struct {
	logger zerolog.Logger
}

// NewCollector creates a collector that logs collection warnings through
// the given logger.
func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{
		logger: logger.With().Str("component", "machine-collector").Logger(),
	}
}

// Collect captures a snapshot of the local host. It never fails: any fact
// that cannot be read is left at its zero value and returned as a warning.
func (c *Collector) Collect() (*Context, []string) {
	var warnings []string
	warn := func(fact string, err error) {
		msg := fmt.Sprintf("fact %s unavailable: %v", fact, err)
		warnings = append(warnings, msg)
		c.logger.Warn().Str("fact", fact).Err(err).Msg("Fact collection failed")
	}

	ctx := &Context{
		Architecture:         runtime.GOARCH,
		EnvironmentVariables: captureEnvironment(),
		Timestamp:            time.Now(),
		Software: SoftwareInfo{
			OSName:    runtime.GOOS,
			GoVersion: runtime.Version(),
		},
		Hardware: HardwareInfo{
			CPUCores: runtime.NumCPU(),
		},
	}

	hostname, err := os.Hostname()
	if err != nil {
		warn("machine_name", err)
	} else {
		ctx.MachineName = hostname
		if i := strings.IndexByte(hostname, '.'); i > 0 {
			ctx.MachineName = hostname[:i]
			ctx.Domain = hostname[i+1:]
		}
	}

	if u, err := user.Current(); err != nil {
		warn("user_name", err)
	} else {
		ctx.UserName = u.Username
		ctx.UserProfile = u.HomeDir
	}

	if osName, osVersion, err := readOSRelease("/etc/os-release"); err != nil {
		warn("os_version", err)
	} else {
		ctx.Software.OSName = osName
		ctx.OSVersion = strings.TrimSpace(osName + " " + osVersion)
	}

	if kernel, err := readKernelVersion("/proc/sys/kernel/osrelease"); err != nil {
		warn("kernel_version", err)
	} else {
		ctx.Software.KernelVersion = kernel
	}

	if memMB, err := readMemoryMB("/proc/meminfo"); err != nil {
		warn("memory_mb", err)
	} else {
		ctx.Hardware.MemoryMB = memMB
	}

	if model, err := readCPUModel("/proc/cpuinfo"); err != nil {
		warn("cpu_model", err)
	} else {
		ctx.Hardware.CPUModel = model
	}

	c.logger.Debug().
		Str("machine", ctx.MachineName).
		Str("user", ctx.UserName).
		Int("env_vars", len(ctx.EnvironmentVariables)).
		Int("warnings", len(warnings)).
		Msg("Machine context captured")

	return ctx, warnings
}

// captureEnvironment snapshots the process environment.
func captureEnvironment() map[string]string {
	env := os.Environ()
	vars := make(map[string]string, len(env))
	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			vars[kv[:i]] = kv[i+1:]
		}
	}
	return vars
}

// readOSRelease parses NAME and VERSION_ID from an os-release file.
func readOSRelease(path string) (name, version string, err error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}

	for _, line := range strings.Split(string(content), "\n") {
		switch {
		case strings.HasPrefix(line, "NAME="):
			name = strings.Trim(strings.TrimPrefix(line, "NAME="), "\"")
		case strings.HasPrefix(line, "VERSION_ID="):
			version = strings.Trim(strings.TrimPrefix(line, "VERSION_ID="), "\"")
		}
	}

	if name == "" {
		return "", "", fmt.Errorf("no NAME entry in %s", path)
	}
	return name, version, nil
}

// readKernelVersion reads the kernel release string.
func readKernelVersion(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(content)), nil
}

// readMemoryMB parses MemTotal from a meminfo file.
func readMemoryMB(path string) (int64, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	for _, line := range strings.Split(string(content), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "MemTotal:" {
			kb, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse MemTotal: %w", err)
			}
			return kb / 1024, nil
		}
	}

	return 0, fmt.Errorf("no MemTotal entry in %s", path)
}

// readCPUModel parses the first "model name" entry from a cpuinfo file.
func readCPUModel(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(string(content), "\n") {
		if strings.HasPrefix(line, "model name") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1]), nil
			}
		}
	}

	return "", fmt.Errorf("no model name entry in %s", path)
}
