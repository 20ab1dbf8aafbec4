package output

import (
	"errors"
	"fmt"
	"log"
)

// MaxChannels is the size of the hardware's PWM/DMA channel id space.
// Valid ids are [0, MaxChannels).
const MaxChannels = 15

var (
	// ErrNoChannel is returned when every non-reserved channel id is
	// already bound.
	ErrNoChannel = errors.New("no dma channel available")
	// ErrChannelBound is returned by Rebind when the binding it would
	// create conflicts with one that is still live.
	ErrChannelBound = errors.New("channel binding in use")
	// ErrChannelState indicates the cycle map and the bound set disagree.
	// That is a bookkeeping bug, not a caller error; there is no recovery.
	ErrChannelState = errors.New("channel bookkeeping inconsistency")
)

// channelAllocator hands out channel ids to update cycles. All actuators
// refreshed on the same cycle share one channel, so a cycle is bound at
// most once and the binding is looked up before anything is allocated.
// Reserved ids are never handed out.
type channelAllocator struct {
	reserved map[int]bool
	echo     bool

	byCycle map[int]int  // update cycle µs -> channel id
	bound   map[int]bool // channel id -> handed out
}

func newChannelAllocator(reserved []int, echo bool) *channelAllocator {
	a := &channelAllocator{
		reserved: make(map[int]bool, len(reserved)),
		echo:     echo,
		byCycle:  make(map[int]int),
		bound:    make(map[int]bool),
	}
	for _, ch := range reserved {
		a.reserved[ch] = true
	}
	return a
}

// ChannelFor returns the channel bound to updateCycleUs, binding the
// lowest free id on first use. The lowest-id tie-break keeps allocation
// order deterministic. fresh reports a new binding, which the caller must
// configure on the driver.
func (a *channelAllocator) ChannelFor(updateCycleUs int) (ch int, fresh bool, err error) {
	if ch, ok := a.byCycle[updateCycleUs]; ok {
		if !a.bound[ch] {
			return 0, false, fmt.Errorf("output: update cycle %dµs maps to unbound channel %d: %w",
				updateCycleUs, ch, ErrChannelState)
		}
		return ch, false, nil
	}
	ch, err = a.allocate()
	if err != nil {
		return 0, false, err
	}
	a.byCycle[updateCycleUs] = ch
	return ch, true, nil
}

// ChannelForLED returns a channel for an actuator with no update-cycle
// preference: the lowest currently bound channel if any binding exists
// (LEDs co-locate with servos on a shared channel), otherwise a fresh
// allocation with no cycle key.
func (a *channelAllocator) ChannelForLED() (ch int, fresh bool, err error) {
	for ch := 0; ch < MaxChannels; ch++ {
		if a.bound[ch] {
			return ch, false, nil
		}
	}
	ch, err = a.allocate()
	if err != nil {
		return 0, false, err
	}
	return ch, true, nil
}

// Rebind points updateCycleUs at an explicit channel. The cycle must not
// currently be bound (ReleaseCycle it first) and the target must be free
// and unreserved; silently replacing a live binding would orphan the
// pulses scheduled on the old channel.
func (a *channelAllocator) Rebind(updateCycleUs, channel int) error {
	if old, ok := a.byCycle[updateCycleUs]; ok {
		return fmt.Errorf("output: update cycle %dµs is bound to channel %d: %w",
			updateCycleUs, old, ErrChannelBound)
	}
	if channel < 0 || channel >= MaxChannels {
		return fmt.Errorf("output: channel %d out of range [0, %d)", channel, MaxChannels)
	}
	if a.reserved[channel] {
		return fmt.Errorf("output: channel %d is reserved", channel)
	}
	if a.bound[channel] {
		return fmt.Errorf("output: channel %d: %w", channel, ErrChannelBound)
	}
	a.byCycle[updateCycleUs] = channel
	a.bound[channel] = true
	return nil
}

// ReleaseCycle drops the binding for updateCycleUs, freeing its channel.
// Releasing an unbound cycle is a no-op, diagnosed only when echo is on.
func (a *channelAllocator) ReleaseCycle(updateCycleUs int) {
	ch, ok := a.byCycle[updateCycleUs]
	if !ok {
		if a.echo {
			log.Printf("output: release of unbound update cycle %dµs", updateCycleUs)
		}
		return
	}
	delete(a.byCycle, updateCycleUs)
	delete(a.bound, ch)
}

func (a *channelAllocator) allocate() (int, error) {
	for ch := 0; ch < MaxChannels; ch++ {
		if a.reserved[ch] || a.bound[ch] {
			continue
		}
		a.bound[ch] = true
		return ch, nil
	}
	return 0, fmt.Errorf("output: %w", ErrNoChannel)
}

// releaseChannel frees ch and any cycle binding that points at it. Used to
// roll back a fresh allocation when configuring the channel on the driver
// fails.
func (a *channelAllocator) releaseChannel(ch int) {
	delete(a.bound, ch)
	for cycle, bound := range a.byCycle {
		if bound == ch {
			delete(a.byCycle, cycle)
		}
	}
}
