package units

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
		err  error
	}{
		{in: "1000000", want: "1000000"},
		{in: " 0x10 ", want: "16"},
		{in: "", want: "0"},
		{in: "-5", err: ErrNegative},
		{in: "1.5", err: ErrInvalid},
		{in: "abc", err: ErrInvalid},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Fatalf("ParseAmount(%q) error = %v, want %v", tc.in, err, tc.err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Fatalf("ParseAmount(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParseAndFormatUnits(t *testing.T) {
	a, err := ParseUnits("1.5", 6)
	if err != nil {
		t.Fatalf("parse units: %v", err)
	}
	if a.String() != "1500000" {
		t.Fatalf("unexpected base units %s", a)
	}
	if a.FormatUnits(6) != "1.5" {
		t.Fatalf("unexpected format %s", a.FormatUnits(6))
	}
	if FromUint64(42).FormatUnits(18) != "0.000000000000000042" {
		t.Fatalf("unexpected small format %s", FromUint64(42).FormatUnits(18))
	}
	if _, err := ParseUnits("1.1234567", 6); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected precision error, got %v", err)
	}
	if z, err := ParseUnits("0.0", 6); err != nil || !z.IsZero() {
		t.Fatalf("expected zero, got %s %v", z, err)
	}
}

func TestArithmetic(t *testing.T) {
	a := MustParse("1000")
	if a.MulBps(9950).String() != "995" {
		t.Fatalf("unexpected bps result %s", a.MulBps(9950))
	}
	if a.Sub(MustParse("2000")).String() != "0" {
		t.Fatalf("sub should clamp at zero")
	}
	if a.Add(FromUint64(1)).Cmp(MustParse("1001")) != 0 {
		t.Fatalf("unexpected add")
	}
	if a.Hex() != "0x3e8" {
		t.Fatalf("unexpected hex %s", a.Hex())
	}
}

func TestJSONRoundTripAcceptsNumbers(t *testing.T) {
	var payload struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":"123456789012345678901234567890","b":42}`), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.B.String() != "42" {
		t.Fatalf("unexpected b %s", payload.B)
	}
	out, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"a":"123456789012345678901234567890","b":"42"}` {
		t.Fatalf("unexpected json %s", out)
	}
}
