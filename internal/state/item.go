// Package state implements SystemState: the typed parameter registry and
// observer bus. It is the single source of truth for configuration and
// live status; mutation happens only on the control thread, and change
// events are delivered to registered observers on the thread that
// released the hold.
package state

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/acquicore/daqcore/internal/daqerr"
)

// Kind identifies a StateItem's value type.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindDouble
	KindEnum
	KindString
	KindFilename
)

// RestrictedFunc reports whether an item currently refuses mutation, and
// the human-readable reason to report back to the caller.
type RestrictedFunc func() (restricted bool, reason string)

// Item is a typed, named, observable cell.
type Item struct {
	Name string
	Kind Kind

	// Bounds, used by Kind-specific validation in Set.
	IntMin, IntMax       int
	DoubleMin, DoubleMax float64
	DoubleStep           float64
	EnumValues           []string

	restricted RestrictedFunc

	// onChanged, when set, runs synchronously right after a successful Set/
	// SetFilenameSub, so an external mirror (a Channel or Port field this
	// item was registered to back) stays in sync with the registry's own
	// copy of the value.
	onChanged func(*Item)

	// value storage, one of these is live depending on Kind.
	boolVal   bool
	intVal    int
	doubleVal float64
	enumVal   string
	stringVal string

	// Filename composite sub-keys.
	filenamePath string
	filenameBase string
}

// NewBool, NewInt, etc. construct items of each kind with sane zero values.

func NewBool(name string, restricted RestrictedFunc) *Item {
	return &Item{Name: name, Kind: KindBool, restricted: restricted}
}

func NewInt(name string, min, max int, restricted RestrictedFunc) *Item {
	return &Item{Name: name, Kind: KindInt, IntMin: min, IntMax: max, restricted: restricted}
}

func NewDouble(name string, min, max, step float64, restricted RestrictedFunc) *Item {
	return &Item{Name: name, Kind: KindDouble, DoubleMin: min, DoubleMax: max, DoubleStep: step, restricted: restricted}
}

func NewEnum(name string, values []string, restricted RestrictedFunc) *Item {
	return &Item{Name: name, Kind: KindEnum, EnumValues: values, restricted: restricted}
}

func NewString(name string, restricted RestrictedFunc) *Item {
	return &Item{Name: name, Kind: KindString, restricted: restricted}
}

func NewFilename(name string, restricted RestrictedFunc) *Item {
	return &Item{Name: name, Kind: KindFilename, restricted: restricted}
}

// Restricted reports whether the item currently refuses mutation.
func (it *Item) Restricted() (bool, string) {
	if it.restricted == nil {
		return false, ""
	}
	return it.restricted()
}

// String formats the item's current value the way Get should render it —
// the format every value must round-trip through Set unchanged.
func (it *Item) String() string {
	switch it.Kind {
	case KindBool:
		return strconv.FormatBool(it.boolVal)
	case KindInt:
		return strconv.Itoa(it.intVal)
	case KindDouble:
		return strconv.FormatFloat(it.doubleVal, 'g', -1, 64)
	case KindEnum:
		return it.enumVal
	case KindString:
		return it.stringVal
	case KindFilename:
		return it.filenamePath + "/" + it.filenameBase
	default:
		return ""
	}
}

// Sub returns the value of a Filename composite's ".path" or
// ".basefilename" sub-key.
func (it *Item) Sub(key string) (string, bool) {
	if it.Kind != KindFilename {
		return "", false
	}
	switch strings.ToLower(key) {
	case "path":
		return it.filenamePath, true
	case "basefilename":
		return it.filenameBase, true
	default:
		return "", false
	}
}

// ValidValues renders the allowed range/enum for an Invalid error message.
func (it *Item) ValidValues() string {
	switch it.Kind {
	case KindBool:
		return "true, false"
	case KindInt:
		return fmt.Sprintf("%d to %d", it.IntMin, it.IntMax)
	case KindDouble:
		return fmt.Sprintf("%g to %g, step %g", it.DoubleMin, it.DoubleMax, it.DoubleStep)
	case KindEnum:
		return strings.Join(it.EnumValues, ", ")
	case KindString:
		return "any string"
	case KindFilename:
		return "a filesystem path"
	default:
		return ""
	}
}

// set applies value, returning a ConfigError if it fails validation. It
// either fully succeeds or leaves the item entirely unchanged.
func (it *Item) set(value string) error {
	switch it.Kind {
	case KindBool:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return &daqerr.ConfigError{Path: it.Name, Message: "expected " + it.ValidValues()}
		}
		it.boolVal = v
	case KindInt:
		v, err := strconv.Atoi(value)
		if err != nil || v < it.IntMin || v > it.IntMax {
			return &daqerr.ConfigError{Path: it.Name, Message: "expected integer " + it.ValidValues()}
		}
		it.intVal = v
	case KindDouble:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v < it.DoubleMin || v > it.DoubleMax {
			return &daqerr.ConfigError{Path: it.Name, Message: "expected number " + it.ValidValues()}
		}
		if it.DoubleStep > 0 {
			steps := (v - it.DoubleMin) / it.DoubleStep
			if quantizationError(steps) > 1e-6 {
				return &daqerr.ConfigError{Path: it.Name, Message: "value not on step " + it.ValidValues()}
			}
		}
		it.doubleVal = v
	case KindEnum:
		for _, ev := range it.EnumValues {
			if strings.EqualFold(ev, value) {
				it.enumVal = ev
				return nil
			}
		}
		return &daqerr.ConfigError{Path: it.Name, Message: "expected one of " + it.ValidValues()}
	case KindString:
		it.stringVal = value
	case KindFilename:
		return &daqerr.ConfigError{Path: it.Name, Message: "set filename.path or filename.basefilename instead"}
	}
	return nil
}

// setSub applies a Filename sub-key value.
func (it *Item) setSub(key, value string) error {
	if it.Kind != KindFilename {
		return &daqerr.ConfigError{Path: it.Name, Message: "not a filename item"}
	}
	switch strings.ToLower(key) {
	case "path":
		it.filenamePath = value
	case "basefilename":
		it.filenameBase = value
	default:
		return daqerr.ErrUnrecognizedParameter
	}
	return nil
}

// Bool, Int, Double, Enum, Str expose the typed current value for callers
// that already know the item's Kind (e.g. the orchestrator reading
// sampleratehertz as a float64 rather than re-parsing its string form).
func (it *Item) Bool() bool      { return it.boolVal }
func (it *Item) Int() int        { return it.intVal }
func (it *Item) Double() float64 { return it.doubleVal }
func (it *Item) Enum() string    { return it.enumVal }
func (it *Item) Str() string     { return it.stringVal }

// OnChanged installs fn to run after every successful mutation, and
// returns it so registration can chain off a constructor call. Used to
// mirror a channel/port item's value onto the signal-model field it
// represents (e.g. outputtodisk onto Channel.Outputs.Disk) the moment a
// command sets it.
func (it *Item) OnChanged(fn func(*Item)) *Item {
	it.onChanged = fn
	return it
}

// SeedBool, SeedInt, etc. set the item's initial value directly,
// bypassing Set's restriction check and onChanged callback — used once at
// registration time, before any command or observer could see the item.
func (it *Item) SeedBool(v bool) *Item      { it.boolVal = v; return it }
func (it *Item) SeedInt(v int) *Item        { it.intVal = v; return it }
func (it *Item) SeedDouble(v float64) *Item { it.doubleVal = v; return it }
func (it *Item) SeedEnum(v string) *Item    { it.enumVal = v; return it }
func (it *Item) SeedString(v string) *Item  { it.stringVal = v; return it }

func quantizationError(steps float64) float64 {
	frac := steps - float64(int64(steps+0.5))
	if frac < 0 {
		frac = -frac
	}
	return frac
}
