// Package sysinfo reports build and host information about the running peer.
package sysinfo

import (
	"net"
	"os"
	"runtime"
	"runtime/debug"
	"time"
)

// Version is the release version, set at build time via ldflags.
// Example: go build -ldflags="-X github.com/postalsys/udp-relay/internal/sysinfo.Version=v1.0.0"
var Version = "dev"

var startTime = time.Now()

// Info describes the running process.
type Info struct {
	Version       string   `json:"version"`
	GoVersion     string   `json:"go_version"`
	Hostname      string   `json:"hostname"`
	OS            string   `json:"os"`
	Arch          string   `json:"arch"`
	StartTime     int64    `json:"start_time"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	IPAddresses   []string `json:"ip_addresses,omitempty"`
}

// Collect gathers build and host information.
func Collect() Info {
	hostname, _ := os.Hostname()

	return Info{
		Version:       FullVersion(),
		GoVersion:     runtime.Version(),
		Hostname:      hostname,
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		StartTime:     startTime.Unix(),
		UptimeSeconds: UptimeSeconds(),
		IPAddresses:   GetLocalIPs(),
	}
}

// FullVersion returns Version, with the VCS revision appended for dev builds
// when the binary carries one.
func FullVersion() string {
	if Version != "dev" {
		return Version
	}
	if rev := vcsRevision(); rev != "" {
		return "dev-" + rev
	}
	return Version
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}

	var rev string
	var dirty bool
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return rev
}

// GetLocalIPs returns non-loopback IPv4 addresses, at most 10.
func GetLocalIPs() []string {
	var ips []string

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ipv4 := ipNet.IP.To4(); ipv4 != nil {
			ips = append(ips, ipv4.String())
		}
	}

	if len(ips) > 10 {
		ips = ips[:10]
	}

	return ips
}

// StartTime returns the process start time.
func StartTime() time.Time {
	return startTime
}

// Uptime returns the process uptime.
func Uptime() time.Duration {
	return time.Since(startTime)
}

// UptimeSeconds returns the process uptime in whole seconds.
func UptimeSeconds() int64 {
	return int64(Uptime().Seconds())
}
