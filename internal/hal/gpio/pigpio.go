//go:build linux

// Package gpio implements the GPIO hardware variant: four relay output
// pins driven via periph.io, and sensor reads served by a native
// pigpio-based polling thread reached through cgo (§9 — this native
// coupling cannot be removed; it is encapsulated entirely behind this
// package so the control engine stays oblivious to it).
package gpio

/*
#cgo LDFLAGS: -lpigpio -lpthread
#include <stdlib.h>

// Mirrors the four symbols the native side exposes: init, start_polling,
// get_last_valid_reading, terminate. The real implementation lives in a
// small C shim (not part of this module) linked against pigpio; it owns
// a background OS thread that bit-bangs the DHT22 protocol on the
// configured pin and caches the latest valid reading, with signal
// handling blocked in that thread.
extern int dht22_init(void);
extern int dht22_start_polling(int pin);
extern int dht22_get_last_valid_reading(double *temp_c, double *humidity);
extern void dht22_terminate(void);
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
)

// pigpioHandle wraps the inevitable process-wide native polling thread
// in a small type with exclusive acquisition and idempotent release, per
// §9's redesign note on ambient singletons.
type pigpioHandle struct {
	mu       sync.Mutex
	acquired bool
	pin      int
}

var globalPigpio pigpioHandle

// acquirePigpio starts the native polling thread for pin. It is an
// error to acquire twice without releasing; pigpio itself is a single
// process-wide resource.
func acquirePigpio(pin int) error {
	globalPigpio.mu.Lock()
	defer globalPigpio.mu.Unlock()

	if globalPigpio.acquired {
		return fmt.Errorf("pigpio already acquired by pin %d", globalPigpio.pin)
	}

	if rc := C.dht22_init(); rc != 0 {
		return fmt.Errorf("dht22_init failed: rc=%d", int(rc))
	}
	if rc := C.dht22_start_polling(C.int(pin)); rc != 0 {
		C.dht22_terminate()
		return fmt.Errorf("dht22_start_polling failed: rc=%d", int(rc))
	}

	globalPigpio.acquired = true
	globalPigpio.pin = pin
	return nil
}

// releasePigpio signals the native polling thread to terminate and
// joins it with a bounded timeout. On timeout it stops waiting and
// marks the handle released; the native thread is not forcibly
// cancelled. Safe to call more than once.
func releasePigpio(timeout time.Duration) {
	globalPigpio.mu.Lock()
	defer globalPigpio.mu.Unlock()

	if !globalPigpio.acquired {
		return
	}

	done := make(chan struct{})
	go func() {
		C.dht22_terminate()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		// dht22_terminate is expected to be idempotent and eventually
		// tear the thread down even if this join timed out; there is
		// no portable "force kill this specific OS thread" primitive
		// available from Go, so the best we can do is stop waiting.
	}

	globalPigpio.acquired = false
}

// readNative fetches the latest valid reading from the native cache and
// converts it from Celsius to the requested unit.
func readNative(toFahrenheit bool) (temp, humidity float64, ok bool) {
	var cTemp, cHum C.double
	if rc := C.dht22_get_last_valid_reading(&cTemp, &cHum); rc == 0 {
		return 0, 0, false
	}
	temp = float64(cTemp)
	if toFahrenheit {
		temp = temp*9/5 + 32
	}
	return temp, float64(cHum), true
}
