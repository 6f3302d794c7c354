//go:build !linux

package gpio

import (
	"fmt"
	"time"
)

// The native pigpio polling thread only exists on Linux. On other
// platforms (including Windows IoT) the GPIO variant's sensor path is
// unavailable; probing it fails with DriverMissing so the probe order
// falls through to the next backend.
func acquirePigpio(pin int) error {
	return fmt.Errorf("pigpio is only available on linux")
}

func releasePigpio(timeout time.Duration) {}

func readNative(toFahrenheit bool) (temp, humidity float64, ok bool) {
	return 0, 0, false
}
