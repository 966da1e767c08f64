package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestHelpersNoOpBeforeRegister(t *testing.T) {
	// Must not panic when metrics are unregistered.
	regOK.Store(false)
	RecordTransition("cam", "resolving", "streaming_live")
	IncResolveFailure("cam", "timeout")
	IncProcessStart("cam", "live")
	IncProcessExit("cam")
	IncStaleness("cam")
	ObserveBackoff("cam", 2.0)
}

func TestRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Second registration is a no-op.
	if err := Register(reg); err != nil {
		t.Fatalf("Register twice: %v", err)
	}

	RecordTransition("cam-a", "init", "resolving")
	IncResolveFailure("cam-a", "camera_offline")
	IncProcessStart("cam-a", "placeholder")
	IncStaleness("cam-a")
	ObserveBackoff("cam-a", 4.0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range mfs {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"camrelay_session_state_transitions_total",
		"camrelay_session_current_state",
		"camrelay_session_resolve_failures_total",
		"camrelay_transcoder_starts_total",
		"camrelay_watchdog_staleness_events_total",
		"camrelay_session_backoff_delay_seconds",
	} {
		if !found[name] {
			t.Errorf("metric %s not gathered", name)
		}
	}
}

func TestCurrentStateGaugeFlips(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	RecordTransition("cam-b", "resolving", "streaming_live")
	RecordTransition("cam-b", "streaming_live", "resolving")

	mfs, _ := reg.Gather()
	var gauge *dto.MetricFamily
	for _, mf := range mfs {
		if mf.GetName() == "camrelay_session_current_state" {
			gauge = mf
		}
	}
	if gauge == nil {
		t.Fatal("current_state gauge not found")
	}
	values := map[string]float64{}
	for _, m := range gauge.GetMetric() {
		var camera, state string
		for _, lp := range m.GetLabel() {
			switch lp.GetName() {
			case "camera":
				camera = lp.GetValue()
			case "state":
				state = lp.GetValue()
			}
		}
		if camera == "cam-b" {
			values[state] = m.GetGauge().GetValue()
		}
	}
	if values["resolving"] != 1 {
		t.Errorf("resolving gauge = %v, want 1", values["resolving"])
	}
	if values["streaming_live"] != 0 {
		t.Errorf("streaming_live gauge = %v, want 0", values["streaming_live"])
	}
}
