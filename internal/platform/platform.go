// Package platform detects the host OS for boot-time log labeling only: a compile-time
// constant plus a best-effort distro sniff, computed once and never shelled out to uname on
// every log line.
package platform

import (
	"os"
	"runtime"
	"strings"
)

// Label is a best-effort, human-readable description of the host platform, logged once when the
// Supervisor starts. Each call re-reads /etc/os-release on Linux.
func Label() string {
	switch runtime.GOOS {
	case "linux":
		if distro := linuxDistro(); distro != "" {
			return "linux/" + distro
		}
		return "linux"
	case "darwin":
		return "darwin"
	case "windows":
		return "windows"
	default:
		return runtime.GOOS
	}
}

// linuxDistro sniffs /etc/os-release for a distro ID.
func linuxDistro() string {
	content, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "ID=") {
			return strings.Trim(strings.TrimPrefix(line, "ID="), `"`)
		}
	}
	return ""
}

// DefaultUsbmuxdSocket is the well-known usbmuxd socket path for this platform.
func DefaultUsbmuxdSocket() string {
	if runtime.GOOS == "windows" {
		return "127.0.0.1:27015"
	}
	return "/var/run/usbmuxd"
}
