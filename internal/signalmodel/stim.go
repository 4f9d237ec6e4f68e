package signalmodel

// StimShape enumerates the supported stimulation pulse shapes.
type StimShape int

const (
	Biphasic StimShape = iota
	BiphasicWithInterphaseDelay
	Triphasic
	Monophasic
)

// Polarity selects which phase leads.
type Polarity int

const (
	NegativeFirst Polarity = iota
	PositiveFirst
)

// TriggerEdgeOrLevel and TriggerHighOrLow qualify the trigger source.
type TriggerEdgeOrLevel int

const (
	Edge TriggerEdgeOrLevel = iota
	Level
)

type TriggerHighOrLow int

const (
	TriggerHigh TriggerHighOrLow = iota
	TriggerLow
)

// PulseMode selects a single pulse or a repeating train.
type PulseMode int

const (
	SinglePulse PulseMode = iota
	PulseTrain
)

// AmpSettleSettings and ChargeRecoverySettings are optional sub-bundles.
type AmpSettleSettings struct {
	Enabled         bool
	Maintain        bool
	PreStimUs       float64
	PostStimUs      float64
}

type ChargeRecoverySettings struct {
	Enabled  bool
	OnUs     float64
	OffUs    float64
}

// StimParameters is the per-channel stimulation bundle.
type StimParameters struct {
	Enabled bool

	Shape    StimShape
	Polarity Polarity

	TriggerSource      string
	TriggerEdgeOrLevel TriggerEdgeOrLevel
	TriggerHighOrLow   TriggerHighOrLow

	PulseMode          PulseMode
	NumberOfStimPulses int

	FirstPhaseDurationUs  float64
	SecondPhaseDurationUs float64
	InterphaseDelayUs     float64
	RefractoryPeriodUs    float64
	PulseTrainPeriodUs    float64
	PostTriggerDelayUs    float64

	FirstPhaseAmplitudeUa  float64
	SecondPhaseAmplitudeUa float64

	AmpSettle       *AmpSettleSettings
	ChargeRecovery  *ChargeRecoverySettings
}
