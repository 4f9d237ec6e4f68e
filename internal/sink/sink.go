// Package sink defines the Sink capability: the interface the
// DiskWriterStage writes through, independent of any concrete on-disk
// file format. FileSink is the reference implementation.
package sink

import "time"

// Header carries everything the disk format needs up front.
type Header struct {
	SampleRate      float64
	LowCutoffHz     float64
	HighCutoffHz    float64
	ChannelNames    []string
	ControllerType  string
	ExpanderPresent bool
}

// Lane identifies one channel+band stream being recorded.
type Lane struct {
	ChannelName string
	Band        string
}

// Sink is the disk-writing capability.
type Sink interface {
	// BeginSegment opens a new output segment described by header,
	// resolving any filename template (e.g. a strftime pattern) against
	// the current time.
	BeginSegment(header Header, at time.Time) error

	// Append writes one lane's samples for the current segment. Samples
	// are whatever concrete type the lane carries (float32 for analog
	// bands, uint16 for digital/spike-adjacent data); callers pass the
	// already-typed slice.
	Append(lane Lane, samples any) error

	// InsertLiveNote records a text annotation at the given acquisition
	// timestamp.
	InsertLiveNote(text string, timestamp uint32) error

	// EndSegment closes the current segment's files.
	EndSegment() error
}
