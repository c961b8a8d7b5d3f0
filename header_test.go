package dbus

import "testing"

func TestHeaderValid(t *testing.T) {
	base := func() header {
		return header{
			Serial:      1,
			Type:        msgTypeCall,
			Path:        "/org/test/Object",
			Member:      "DoStuff",
			Destination: "org.test.Peer",
		}
	}

	h := base()
	if err := h.Valid(); err != nil {
		t.Errorf("METHOD_CALL with no Interface set should be valid (unique match across interfaces), got: %v", err)
	}

	h = base()
	h.Interface = "org.test.Iface"
	if err := h.Valid(); err != nil {
		t.Errorf("METHOD_CALL with a valid Interface set should be valid, got: %v", err)
	}

	h = base()
	h.Member = ""
	if err := h.Valid(); err == nil {
		t.Error("METHOD_CALL with no Member set should be invalid")
	}

	h = base()
	h.Interface = "not a valid interface name"
	if err := h.Valid(); err == nil {
		t.Error("METHOD_CALL with a malformed Interface should be invalid")
	}

	sig := header{
		Serial: 1,
		Type:   msgTypeSignal,
		Path:   "/org/test/Object",
		Member: "Changed",
	}
	if err := sig.Valid(); err == nil {
		t.Error("SIGNAL with no Interface set should be invalid")
	}
	sig.Interface = "org.test.Iface"
	if err := sig.Valid(); err != nil {
		t.Errorf("SIGNAL with Path, Interface and Member set should be valid, got: %v", err)
	}
}
