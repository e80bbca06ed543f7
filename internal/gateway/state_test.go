package gateway

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestConnectionStateText(t *testing.T) {
	for s := Disconnected; s <= ConnectFailed; s++ {
		raw, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("Marshal(%v) error = %v", s, err)
		}
		var back ConnectionState
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", raw, err)
		}
		if back != s {
			t.Errorf("round trip of %v = %v", s, back)
		}
	}

	var s ConnectionState
	if err := s.UnmarshalText([]byte("sleeping")); !errors.Is(err, ErrDecode) {
		t.Errorf("UnmarshalText(sleeping) error = %v, want ErrDecode", err)
	}
	if got := ConnectionState(42).String(); got != "unknown(42)" {
		t.Errorf("String() = %q", got)
	}
}
