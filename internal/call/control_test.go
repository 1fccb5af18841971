package call

import "testing"

func TestPeerStatusRoundTrip(t *testing.T) {
	in := PeerStatus{MicMuted: true, ScreenSharing: true}

	data, err := marshalStatus(in)
	if err != nil {
		t.Fatalf("marshalStatus: %v", err)
	}

	out, err := parseStatus(data)
	if err != nil {
		t.Fatalf("parseStatus: %v", err)
	}

	if out != in {
		t.Errorf("parseStatus = %+v, want %+v", out, in)
	}
}

func TestParseStatusRejectsGarbage(t *testing.T) {
	if _, err := parseStatus([]byte{0xc1}); err == nil {
		t.Error("expected error for invalid msgpack payload")
	}
}
