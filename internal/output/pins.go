package output

import (
	"errors"
	"fmt"
	"log"
)

// ErrPinClaimed is returned when a claim targets a pin that is already
// held by another purpose.
var ErrPinClaimed = errors.New("pin already claimed")

type pinClaim struct {
	dir     Direction
	comment string
}

// pinRegistry tracks which GPIO pins are in use and for what. The claim
// set is the single source of truth for pin ownership; nothing configures
// a pin without going through Claim.
type pinRegistry struct {
	drv  Driver
	echo bool

	claims map[int]pinClaim
}

func newPinRegistry(drv Driver, echo bool) *pinRegistry {
	return &pinRegistry{drv: drv, echo: echo, claims: make(map[int]pinClaim)}
}

// seed records pins held by other subsystems. The hardware is not touched;
// the registry only has to refuse to hand these pins out again.
func (r *pinRegistry) seed(pins map[int]string) {
	for pin, purpose := range pins {
		r.claims[pin] = pinClaim{dir: Out, comment: purpose}
	}
}

// Claim reserves pin for the given purpose and configures its direction on
// the hardware. A pin can hold at most one claim at a time.
func (r *pinRegistry) Claim(pin int, dir Direction, comment string) error {
	if held, ok := r.claims[pin]; ok {
		return fmt.Errorf("output: claim pin %d for %q (held for %q): %w", pin, comment, held.comment, ErrPinClaimed)
	}
	if err := r.drv.SetPinDirection(pin, dir); err != nil {
		return fmt.Errorf("output: configure pin %d: %w", pin, err)
	}
	r.claims[pin] = pinClaim{dir: dir, comment: comment}
	return nil
}

// Release drops the claim on pin. Releasing an unclaimed pin is a no-op;
// it is only diagnosed when echo is on.
func (r *pinRegistry) Release(pin int) {
	if _, ok := r.claims[pin]; !ok {
		if r.echo {
			log.Printf("output: release of unclaimed pin %d", pin)
		}
		return
	}
	delete(r.claims, pin)
}

// Claimed reports whether pin currently holds a claim.
func (r *pinRegistry) Claimed(pin int) bool {
	_, ok := r.claims[pin]
	return ok
}
