package main

import (
	"github.com/acquicore/daqcore/internal/orchestrator"
	"github.com/acquicore/daqcore/internal/signalmodel"
	"github.com/acquicore/daqcore/internal/state"
)

// registerSignalModelItems installs the per-channel and per-port items the
// command grammar's "<native-name>.<attr>" and "<port-letter>.<attr>" forms
// resolve against (spec.md 4.9/6.2). Each item mirrors its value onto the
// Channel/Port field it backs via OnChanged, so the rest of the pipeline
// keeps reading signalmodel fields directly rather than going back through
// the registry.
func registerSignalModelItems(registry *state.Registry, model *signalmodel.SignalModel, orch *orchestrator.Orchestrator) {
	restricted := restrictedWhileRunning(orch)

	for _, p := range model.Ports {
		registerPortItems(registry, p, restricted)
		for _, ch := range p.Channels {
			registerChannelItems(registry, ch, orch, restricted)
		}
	}
}

func registerPortItems(registry *state.Registry, p *signalmodel.Port, restricted state.RestrictedFunc) {
	enable := state.NewBool("enable", restricted)
	enable.SeedBool(p.Enabled)
	enable.OnChanged(func(it *state.Item) { p.Enabled = it.Bool() })
	registry.RegisterPortItem(p.Label, enable)

	delay := state.NewInt("manualcabledelay", 0, 64, restricted)
	delay.SeedInt(p.ManualCableDelay)
	delay.OnChanged(func(it *state.Item) { p.ManualCableDelay = it.Int() })
	registry.RegisterPortItem(p.Label, delay)

	auxOut := state.NewBool("auxdigitaloutputvalue", restricted)
	auxOut.SeedBool(p.AuxDigitalOutValue)
	auxOut.OnChanged(func(it *state.Item) { p.AuxDigitalOutValue = it.Bool() })
	registry.RegisterPortItem(p.Label, auxOut)
}

func registerChannelItems(registry *state.Registry, ch *signalmodel.Channel, orch *orchestrator.Orchestrator, restricted state.RestrictedFunc) {
	name := state.NewString("customname", restricted)
	name.SeedString(ch.CustomName)
	name.OnChanged(func(it *state.Item) { ch.CustomName = it.Str() })
	registry.RegisterChannelItem(ch.NativeName, name)

	reference := state.NewString("reference", restricted)
	reference.SeedString(ch.Reference)
	reference.OnChanged(func(it *state.Item) { ch.Reference = it.Str() })
	registry.RegisterChannelItem(ch.NativeName, reference)

	enabled := state.NewBool("enabled", restricted)
	enabled.SeedBool(ch.Enabled)
	enabled.OnChanged(func(it *state.Item) { ch.Enabled = it.Bool() })
	registry.RegisterChannelItem(ch.NativeName, enabled)

	registerOutputItem(registry, ch, orch, restricted, "outputtodisk",
		func() bool { return ch.Outputs.Disk },
		func(v bool) { ch.Outputs.Disk = v },
		resolveDisk)
	registerOutputItem(registry, ch, orch, restricted, "outputtotcpwide",
		func() bool { return ch.Outputs.TcpWide },
		func(v bool) { ch.Outputs.TcpWide = v },
		resolveTcp)
	registerOutputItem(registry, ch, orch, restricted, "outputtotcplow",
		func() bool { return ch.Outputs.TcpLow },
		func(v bool) { ch.Outputs.TcpLow = v },
		resolveTcp)
	registerOutputItem(registry, ch, orch, restricted, "outputtotcphigh",
		func() bool { return ch.Outputs.TcpHigh },
		func(v bool) { ch.Outputs.TcpHigh = v },
		resolveTcp)
	registerOutputItem(registry, ch, orch, restricted, "outputtotcpspike",
		func() bool { return ch.Outputs.TcpSpike },
		func(v bool) { ch.Outputs.TcpSpike = v },
		resolveTcp)
	registerOutputItem(registry, ch, orch, restricted, "outputtotcpdc",
		func() bool { return ch.Outputs.TcpDc },
		func(v bool) { ch.Outputs.TcpDc = v },
		resolveTcp)
	registerOutputItem(registry, ch, orch, restricted, "outputtotcpstim",
		func() bool { return ch.Outputs.TcpStim },
		func(v bool) { ch.Outputs.TcpStim = v },
		resolveTcp)

	registerStimItems(registry, ch, restricted)
}

// registerOutputItem wires one OutputSinks bool flag, re-resolving the
// consuming stage's enabled-channel cache whenever a command flips it.
func registerOutputItem(registry *state.Registry, ch *signalmodel.Channel, orch *orchestrator.Orchestrator, restricted state.RestrictedFunc, name string, get func() bool, set func(bool), resolve func(*orchestrator.Orchestrator)) {
	it := state.NewBool(name, restricted)
	it.SeedBool(get())
	it.OnChanged(func(item *state.Item) {
		set(item.Bool())
		resolve(orch)
	})
	registry.RegisterChannelItem(ch.NativeName, it)
}

func resolveDisk(orch *orchestrator.Orchestrator) { orch.Disk.ResolveEnabledLanes() }
func resolveTcp(orch *orchestrator.Orchestrator)  { orch.Tcp.ResolveEnabledChannels() }

// registerStimItems wires the subset of StimParameters an operator needs to
// configure from the command socket: enough to drive every StimShape and
// the amp-settle/charge-recovery bundles through stim.Program. stimenabled
// lazily allocates ch.Stim the first time it's turned on, matching
// StimParameters being nil until a channel is actually configured for
// stimulation.
func registerStimItems(registry *state.Registry, ch *signalmodel.Channel, restricted state.RestrictedFunc) {
	stimParams := func() *signalmodel.StimParameters {
		if ch.Stim == nil {
			ch.Stim = &signalmodel.StimParameters{}
		}
		return ch.Stim
	}

	stimEnabled := state.NewBool("stimenabled", restricted)
	stimEnabled.OnChanged(func(it *state.Item) { stimParams().Enabled = it.Bool() })
	registry.RegisterChannelItem(ch.NativeName, stimEnabled)

	shape := state.NewEnum("stimshape", []string{"biphasic", "biphasicwithinterphasedelay", "triphasic", "monophasic"}, restricted)
	shape.SeedEnum("biphasic")
	shape.OnChanged(func(it *state.Item) {
		stimParams().Shape = map[string]signalmodel.StimShape{
			"biphasic":                    signalmodel.Biphasic,
			"biphasicwithinterphasedelay": signalmodel.BiphasicWithInterphaseDelay,
			"triphasic":                   signalmodel.Triphasic,
			"monophasic":                  signalmodel.Monophasic,
		}[it.Enum()]
	})
	registry.RegisterChannelItem(ch.NativeName, shape)

	polarity := state.NewEnum("stimpolarity", []string{"negativefirst", "positivefirst"}, restricted)
	polarity.SeedEnum("negativefirst")
	polarity.OnChanged(func(it *state.Item) {
		stimParams().Polarity = map[string]signalmodel.Polarity{
			"negativefirst": signalmodel.NegativeFirst,
			"positivefirst": signalmodel.PositiveFirst,
		}[it.Enum()]
	})
	registry.RegisterChannelItem(ch.NativeName, polarity)

	pulseMode := state.NewEnum("stimpulsemode", []string{"singlepulse", "pulsetrain"}, restricted)
	pulseMode.SeedEnum("singlepulse")
	pulseMode.OnChanged(func(it *state.Item) {
		stimParams().PulseMode = map[string]signalmodel.PulseMode{
			"singlepulse": signalmodel.SinglePulse,
			"pulsetrain":  signalmodel.PulseTrain,
		}[it.Enum()]
	})
	registry.RegisterChannelItem(ch.NativeName, pulseMode)

	registerStimDouble(registry, ch, restricted, "stimfirstphasedurationus", func(v float64) { stimParams().FirstPhaseDurationUs = v })
	registerStimDouble(registry, ch, restricted, "stimsecondphasedurationus", func(v float64) { stimParams().SecondPhaseDurationUs = v })
	registerStimDouble(registry, ch, restricted, "stiminterphasedelayus", func(v float64) { stimParams().InterphaseDelayUs = v })
	registerStimDouble(registry, ch, restricted, "stimrefractoryperiodus", func(v float64) { stimParams().RefractoryPeriodUs = v })
	registerStimDouble(registry, ch, restricted, "stimpulsetrainperiodus", func(v float64) { stimParams().PulseTrainPeriodUs = v })
	registerStimDouble(registry, ch, restricted, "stimposttriggerdelayus", func(v float64) { stimParams().PostTriggerDelayUs = v })
	registerStimDouble(registry, ch, restricted, "stimfirstphaseamplitudeua", func(v float64) { stimParams().FirstPhaseAmplitudeUa = v })
	registerStimDouble(registry, ch, restricted, "stimsecondphaseamplitudeua", func(v float64) { stimParams().SecondPhaseAmplitudeUa = v })
}

func registerStimDouble(registry *state.Registry, ch *signalmodel.Channel, restricted state.RestrictedFunc, name string, set func(float64)) {
	it := state.NewDouble(name, 0, 1e7, 0, restricted)
	it.OnChanged(func(item *state.Item) { set(item.Double()) })
	registry.RegisterChannelItem(ch.NativeName, it)
}
