package timesync

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v4/host"
	"golang.org/x/sys/unix"
)

// Converter handles conversion from monotonic timestamps to wall-clock time.
type Converter struct {
	bootTime time.Time
}

// NewConverter creates a converter anchored at the current boot instant.
func NewConverter() (*Converter, error) {
	bootTime, err := monotonicBootTime()
	if err != nil {
		secs, herr := host.BootTime()
		if herr != nil {
			return nil, errors.CombineErrors(err, errors.Wrap(herr, "reading host boot time"))
		}
		bootTime = time.Unix(int64(secs), 0) //nolint:gosec // boot time in seconds fits int64
	}

	return &Converter{bootTime: bootTime}, nil
}

// NewConverterAt returns a converter with a fixed boot instant.
func NewConverterAt(bootTime time.Time) *Converter {
	return &Converter{bootTime: bootTime}
}

// MonotonicToWallClock converts nanoseconds since boot to wall-clock time.
func (c *Converter) MonotonicToWallClock(monotonicNanos uint64) time.Time {
	//nolint:gosec // uint64 to int64 conversion for time.Duration is safe for reasonable timestamps
	return c.bootTime.Add(time.Duration(monotonicNanos))
}

// BootTime returns the boot instant used for conversions.
func (c *Converter) BootTime() time.Time {
	return c.bootTime
}

func monotonicBootTime() (time.Time, error) {
	var ts unix.Timespec
	now := time.Now()
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Time{}, errors.Wrap(err, "reading CLOCK_MONOTONIC")
	}
	return now.Add(-time.Duration(ts.Nano())), nil
}
