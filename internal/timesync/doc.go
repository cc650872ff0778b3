// Package timesync converts the kernel monotonic timestamps stamped on probe
// records into wall-clock time.
//
// bpf_ktime_get_ns reads CLOCK_MONOTONIC. The converter samples that clock and
// the realtime clock together once at startup and keeps the difference as the
// boot instant; every record timestamp is then an offset from it. When the
// monotonic clock cannot be read the host boot time reported by gopsutil is
// used instead, at one second resolution.
package timesync
