package bus

import "testing"

func TestInboundTopic(t *testing.T) {
	got := InboundTopic("", "gts-demo", "naeural", StreamHeartbeats)
	want := "$share/gts-demo/gts-demo/naeural/ctrl"
	if got != want {
		t.Errorf("InboundTopic: got %q want %q", got, want)
	}
}

func TestOutboundTopic(t *testing.T) {
	got := OutboundTopic("", "naeural", "0xai_Abc")
	want := "naeural/0xai_Abc/config"
	if got != want {
		t.Errorf("OutboundTopic: got %q want %q", got, want)
	}
}

func TestTopicPrefix(t *testing.T) {
	got := InboundTopic("staging", "gts-demo", "naeural", StreamPayloads)
	want := "$share/gts-demo/staging/gts-demo/naeural/payloads"
	if got != want {
		t.Errorf("InboundTopic: got %q want %q", got, want)
	}

	got = OutboundTopic("staging/", "naeural", "0xai_Abc")
	want = "staging/naeural/0xai_Abc/config"
	if got != want {
		t.Errorf("OutboundTopic: got %q want %q", got, want)
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"broker:1883":        "tcp://broker:1883",
		"tcp://broker:1883":  "tcp://broker:1883",
		"ssl://broker:8883":  "ssl://broker:8883",
		"ws://broker/stream": "ws://broker/stream",
	}
	for in, want := range cases {
		if got := normalizeURL(in); got != want {
			t.Errorf("normalizeURL(%q): got %q want %q", in, got, want)
		}
	}
}
