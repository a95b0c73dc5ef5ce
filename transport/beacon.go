package transport

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/aarossig/nrfnet/link"
)

// beaconJitter returns interval scaled by a uniform random factor in
// [0.9, 1.1], matching the ±10% jitter every beacon wake-up applies.
func beaconJitter(interval time.Duration, rng *rand.Rand) time.Duration {
	factor := 0.9 + rng.Float64()*0.2
	return time.Duration(float64(interval) * factor)
}

// runBeacon periodically calls link.Beacon() at cfg.BeaconIntervalUs, with
// jitter, until stopCh is closed. It only holds the link mutex for the
// duration of the Beacon call itself.
func (t *Transport) runBeacon() {
	defer t.wg.Done()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	interval := t.cfg.BeaconInterval()

	// Schedule against wall-clock time so a beacon delayed by an active
	// Send holding the link does not push back every later beacon.
	next := time.Now().Add(beaconJitter(interval, rng))
	for {
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-t.stopCh:
			return
		case <-time.After(wait):
		}
		next = next.Add(beaconJitter(interval, rng))

		t.mu.Lock()
		result := t.link.Beacon()
		t.mu.Unlock()

		if result != link.TransmitSuccess {
			t.log.Debug("transport: beacon failed", zap.Stringer("result", result))
			if t.handler != nil {
				t.handler.OnBeaconFailed(result)
			}
		}
	}
}
