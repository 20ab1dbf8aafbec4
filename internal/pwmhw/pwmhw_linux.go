//go:build linux

package pwmhw

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"

	"servoctl/internal/output"
)

// Raspberry Pi backend for the output controller.
//
// Pin directions go through the Linux GPIO character device. Pulses go
// through /sys/class/pwm: a controller channel maps to a sysfs PWM
// channel, the update cycle to its period, and the pulse width to its
// duty cycle. Hardware PWM emits exactly one pulse per period, so
// EmitPulse accepts the start offset and ignores it.
//
// Notes:
//   - On Raspberry Pi you typically need `dtoverlay=pwm-2chan` (or
//     equivalent) so the header PWM channels appear under /sys/class/pwm.
//   - The controller's channel id space is wider than the chip's npwm on
//     most boards; configuring a channel the chip does not expose fails
//     at export time.

const (
	// pulseIncrementUs is the granularity pulse widths are expressed in,
	// matching the 10 µs timer step of DMA-based PWM drivers.
	pulseIncrementUs  = 10
	defaultSubcycleUs = 20000
)

var pwmSysfsBase = "/sys/class/pwm"

type Driver struct {
	chips []*gpiocdev.Chip
	lines map[int]*gpiocdev.Line

	pwmChipPath string
	periods     map[int]int // channel -> update cycle µs
}

var _ output.Driver = (*Driver)(nil)

func Open() (*Driver, error) {
	chipPath, err := findPWMChip()
	if err != nil {
		return nil, err
	}
	return &Driver{
		lines:       make(map[int]*gpiocdev.Line),
		pwmChipPath: chipPath,
		periods:     make(map[int]int),
	}, nil
}

func findPWMChip() (string, error) {
	base := pwmSysfsBase
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", fmt.Errorf("pwmhw: read %s: %w", base, err)
	}

	// Prefer pwmchip0 if present (common on Pi). Entries are commonly
	// symlinks, not directories.
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "pwmchip") {
			seen[e.Name()] = true
		}
	}
	names := make([]string, 0, len(seen))
	for _, preferred := range []string{"pwmchip0", "pwmchip1", "pwmchip2"} {
		if seen[preferred] {
			names = append(names, preferred)
			delete(seen, preferred)
		}
	}
	for _, e := range entries {
		if seen[e.Name()] {
			names = append(names, e.Name())
		}
	}

	for _, name := range names {
		chip := filepath.Join(base, name)
		if n, err := readInt(filepath.Join(chip, "npwm")); err == nil && n > 0 {
			return chip, nil
		}
	}
	return "", fmt.Errorf("pwmhw: no sysfs pwmchip found (is the pwm overlay enabled?)")
}

// SetPinDirection requests the pin's GPIO line as input or output. A
// previously requested line for the same pin is released first.
func (d *Driver) SetPinDirection(pin int, dir output.Direction) error {
	if line, ok := d.lines[pin]; ok {
		_ = line.Close()
		delete(d.lines, pin)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.WithConsumer("servoctl")}
	if dir == output.In {
		opts = append(opts, gpiocdev.AsInput)
	} else {
		opts = append(opts, gpiocdev.AsOutput(0))
	}
	line, err := d.requestLine(pin, opts...)
	if err != nil {
		return err
	}
	d.lines[pin] = line
	return nil
}

func (d *Driver) requestLine(pin int, opts ...gpiocdev.LineReqOption) (*gpiocdev.Line, error) {
	// On Pi, line names are commonly "GPIO17", etc. Kernel variants move
	// the header GPIOs between chips, so scan the candidates.
	lineName := fmt.Sprintf("GPIO%d", pin)

	candidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gpiochip") {
			candidates = append(candidates, filepath.Join("/dev", e.Name()))
		}
	}

	for _, chipPath := range candidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			_ = chip.Close()
			continue
		}
		d.chips = append(d.chips, chip)
		return line, nil
	}
	return nil, fmt.Errorf("pwmhw: gpio line %q not found (or busy)", lineName)
}

// ConfigureChannel exports the sysfs PWM channel and programs its period
// from the update cycle.
func (d *Driver) ConfigureChannel(channel, updateCycleUs int) error {
	if channel < 0 {
		return fmt.Errorf("pwmhw: invalid channel %d", channel)
	}
	if updateCycleUs <= 0 {
		return fmt.Errorf("pwmhw: invalid update cycle %dµs", updateCycleUs)
	}
	pwmPath, err := d.ensureExported(channel)
	if err != nil {
		return err
	}

	// Disable before changing the period (common sysfs requirement).
	_ = writeSysfs(filepath.Join(pwmPath, "enable"), "0")
	periodNS := uint64(updateCycleUs) * 1000
	if err := writeSysfs(filepath.Join(pwmPath, "period"), strconv.FormatUint(periodNS, 10)); err != nil {
		return fmt.Errorf("pwmhw: channel %d period: %w", channel, err)
	}
	if err := writeSysfs(filepath.Join(pwmPath, "enable"), "1"); err != nil {
		return fmt.Errorf("pwmhw: channel %d enable: %w", channel, err)
	}
	d.periods[channel] = updateCycleUs
	return nil
}

// EmitPulse programs a pulse of width pulse increments. The start offset
// is not representable on the hardware PWM block and is ignored.
func (d *Driver) EmitPulse(channel, pin, startOffset, width int) error {
	period, ok := d.periods[channel]
	if !ok {
		return fmt.Errorf("pwmhw: channel %d not configured", channel)
	}
	if width < 0 {
		width = 0
	}
	dutyNS := uint64(width) * pulseIncrementUs * 1000
	if maxNS := uint64(period) * 1000; dutyNS > maxNS {
		dutyNS = maxNS
	}
	pwmPath := filepath.Join(d.pwmChipPath, fmt.Sprintf("pwm%d", channel))
	if err := writeSysfs(filepath.Join(pwmPath, "duty_cycle"), strconv.FormatUint(dutyNS, 10)); err != nil {
		return fmt.Errorf("pwmhw: channel %d duty: %w", channel, err)
	}
	return nil
}

// ClearPulse zeroes the duty cycle for the channel.
func (d *Driver) ClearPulse(channel, pin int) error {
	if _, ok := d.periods[channel]; !ok {
		return fmt.Errorf("pwmhw: channel %d not configured", channel)
	}
	pwmPath := filepath.Join(d.pwmChipPath, fmt.Sprintf("pwm%d", channel))
	if err := writeSysfs(filepath.Join(pwmPath, "duty_cycle"), "0"); err != nil {
		return fmt.Errorf("pwmhw: channel %d clear: %w", channel, err)
	}
	return nil
}

func (d *Driver) SubcycleTimeUs(channel int) int {
	if us, ok := d.periods[channel]; ok {
		return us
	}
	return defaultSubcycleUs
}

func (d *Driver) PulseIncrementUs() int { return pulseIncrementUs }

// Close disables every configured channel and releases all GPIO lines.
// Best-effort: the board is left with no pulses scheduled.
func (d *Driver) Close() error {
	var errs []error
	for channel := range d.periods {
		pwmPath := filepath.Join(d.pwmChipPath, fmt.Sprintf("pwm%d", channel))
		_ = writeSysfs(filepath.Join(pwmPath, "duty_cycle"), "0")
		if err := writeSysfs(filepath.Join(pwmPath, "enable"), "0"); err != nil {
			errs = append(errs, err)
		}
	}
	for pin, line := range d.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(d.lines, pin)
	}
	for _, chip := range d.chips {
		if err := chip.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.chips = nil
	return errors.Join(errs...)
}

func (d *Driver) ensureExported(channel int) (string, error) {
	pwmPath := filepath.Join(d.pwmChipPath, fmt.Sprintf("pwm%d", channel))
	if _, err := os.Stat(pwmPath); err == nil {
		return pwmPath, nil
	}

	exportPath := filepath.Join(d.pwmChipPath, "export")
	if err := writeSysfs(exportPath, strconv.Itoa(channel)); err != nil {
		// If already exported by someone else, ignore.
		if _, statErr := os.Stat(pwmPath); statErr == nil {
			return pwmPath, nil
		}
		return "", fmt.Errorf("pwmhw: export channel %d: %w", channel, err)
	}

	// Wait briefly for the sysfs node to appear.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(pwmPath); err == nil {
			return pwmPath, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return "", fmt.Errorf("pwmhw: channel %d not created after export", channel)
}

func writeSysfs(path, value string) error {
	// O_WRONLY without O_TRUNC/O_CREATE: some sysfs attributes reject
	// truncation flags outright. Immediately after export, udev adjusts
	// permissions asynchronously, so EACCES/ENOENT are retried briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := func() error {
			f, err := os.OpenFile(path, os.O_WRONLY, 0)
			if err != nil {
				return err
			}
			_, werr := f.WriteString(value)
			return errors.Join(werr, f.Close())
		}()
		if err == nil {
			return nil
		}
		if time.Now().Before(deadline) && isRetryableSysfsErr(err) {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		return err
	}
}

func isRetryableSysfsErr(err error) bool {
	return errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOENT)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	return strconv.Atoi(s)
}
