package input

import (
	"context"
	"fmt"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"github.com/pointerops/mouselayer/internal/model"
)

// PointerReader streams coalesced displacement samples from one relative
// pointing device into the daemon loop. Each reader is bound to exactly one
// layer id: one logical motion stream per policy target.
type PointerReader struct {
	dev   *evdev.InputDevice
	layer int
}

func OpenPointer(path string, layer int) (*PointerReader, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pointer %s: %w", path, err)
	}
	return &PointerReader{dev: dev, layer: layer}, nil
}

// Run reads until the context ends or the device errors out. The device read
// blocks, so cancellation closes the device to unblock it.
func (r *PointerReader) Run(ctx context.Context, out chan<- model.Motion) error {
	go func() {
		<-ctx.Done()
		r.dev.Close() //nolint:errcheck
	}()
	fc := frameCoalescer{layer: r.layer}
	for {
		ev, err := r.dev.ReadOne()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read pointer: %w", err)
		}
		if m, ok := fc.observe(ev, time.Now()); ok {
			select {
			case out <- m:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// KeyboardReader streams key transitions from one keyboard device. Every key
// on the board is forwarded; exclusion filtering is the controller's job.
type KeyboardReader struct {
	dev *evdev.InputDevice
}

func OpenKeyboard(path string) (*KeyboardReader, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keyboard %s: %w", path, err)
	}
	return &KeyboardReader{dev: dev}, nil
}

func (r *KeyboardReader) Run(ctx context.Context, out chan<- model.Key) error {
	go func() {
		<-ctx.Done()
		r.dev.Close() //nolint:errcheck
	}()
	for {
		ev, err := r.dev.ReadOne()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read keyboard: %w", err)
		}
		if ev.Type != evdev.EV_KEY {
			continue
		}
		// Value 2 is autorepeat. A repeat is not a new press and must
		// not keep the idle gate closed.
		if ev.Value != 0 && ev.Value != 1 {
			continue
		}
		k := model.Key{Position: uint16(ev.Code), Pressed: ev.Value == 1, At: time.Now()}
		select {
		case out <- k:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
