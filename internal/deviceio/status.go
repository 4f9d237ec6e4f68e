package deviceio

import (
	"github.com/warthog618/go-gpiocdev"

	"github.com/acquicore/daqcore/internal/observer"
)

// StatusIndicator drives a single GPIO line as a board-status LED: on
// after a board attaches, off after it detaches or any error event. It
// does not follow the run mode and never blinks. It subscribes to the
// observer bus itself so nothing else needs to know the indicator exists.
type StatusIndicator struct {
	Chip string
	Line int

	line *gpiocdev.Line
}

// Open requests the configured line as an output, initially low.
func (s *StatusIndicator) Open() error {
	line, err := gpiocdev.RequestLine(s.Chip, s.Line, gpiocdev.AsOutput(0))
	if err != nil {
		return err
	}
	s.line = line
	return nil
}

// Set drives the line high (on) or low (off).
func (s *StatusIndicator) Set(on bool) error {
	if s.line == nil {
		return nil
	}
	v := 0
	if on {
		v = 1
	}
	return s.line.SetValue(v)
}

// Close releases the requested line.
func (s *StatusIndicator) Close() error {
	if s.line == nil {
		return nil
	}
	return s.line.Close()
}

// Watch subscribes to the bus and keeps the indicator in sync with board
// attach/detach events; any Error event turns it off rather than leaving
// a stale "attached" signal lit.
func (s *StatusIndicator) Watch(bus *observer.Bus) {
	if bus == nil {
		return
	}
	bus.Subscribe(func(ev observer.Event) {
		switch ev.Kind {
		case observer.BoardAttached:
			_ = s.Set(true)
		case observer.BoardDetached, observer.Error:
			_ = s.Set(false)
		}
	})
}
