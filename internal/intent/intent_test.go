package intent

import (
	"strings"
	"testing"
	"time"

	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/pkg/units"
)

const (
	agentAddr = "0x1111111111111111111111111111111111111111"
	usdc      = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	weth      = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
)

func swapIntent() *Intent {
	return &Intent{
		MandateID: "m-1",
		Agent:     agentAddr,
		Type:      "SWAP",
		TokenIn:   usdc,
		TokenOut:  weth,
		AmountIn:  units.MustParse("1000000"),
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"mandate_id":"m","type":"swap","amountIn":"1"}`))
	if xerrors.CodeOf(err) != CodeIntentInvalid {
		t.Fatalf("expected INTENT_INVALID, got %v", err)
	}

	in, err := Decode(strings.NewReader(`{"mandate_id":"m","type":"swap","amount_in":"25","slippage_bps":30}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if in.AmountIn.String() != "25" || in.Slippage(100) != 30 {
		t.Fatalf("unexpected decoded intent %+v", in)
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	in := swapIntent()
	in.Normalize(now, 10*time.Minute)

	if in.Type != TypeSwap {
		t.Fatalf("type not normalised: %s", in.Type)
	}
	if in.TokenIn != "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48" {
		t.Fatalf("token_in not checksummed: %s", in.TokenIn)
	}
	if in.Recipient != in.Agent {
		t.Fatalf("recipient should default to agent")
	}
	if in.Deadline != now.Add(10*time.Minute).Unix() {
		t.Fatalf("unexpected deadline %d", in.Deadline)
	}
	if err := in.Validate(now); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRules(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cases := []struct {
		name   string
		mutate func(*Intent)
		field  string
		code   xerrors.Code
	}{
		{"missing mandate", func(in *Intent) { in.MandateID = "" }, "mandate_id", CodeIntentInvalid},
		{"bad type", func(in *Intent) { in.Type = "borrow" }, "type", CodeIntentInvalid},
		{"zero amount", func(in *Intent) { in.AmountIn = units.Amount{} }, "amount_in", CodeIntentInvalid},
		{"bad agent", func(in *Intent) { in.Agent = "0x123" }, "agent", CodeIntentInvalid},
		{"same tokens", func(in *Intent) { in.TokenOut = in.TokenIn }, "token_out", CodeIntentInvalid},
		{"deposit with token_out", func(in *Intent) { in.Type = TypeDeposit }, "token_out", CodeIntentInvalid},
		{"slippage range", func(in *Intent) { v := 10_001; in.SlippageBps = &v }, "slippage_bps", CodeIntentInvalid},
		{"min above expected", func(in *Intent) {
			in.ExpectedAmountOut = units.MustParse("10")
			in.MinAmountOut = units.MustParse("11")
		}, "min_amount_out", CodeIntentInvalid},
		{"expired", func(in *Intent) { in.Deadline = now.Unix() - 1 }, "deadline", CodeIntentExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := swapIntent()
			in.Normalize(now, time.Minute)
			tc.mutate(in)
			err := in.Validate(now)
			e, ok := xerrors.From(err)
			if !ok {
				t.Fatalf("expected coded error, got %v", err)
			}
			if e.Code() != tc.code || e.Metadata()["field"] != tc.field {
				t.Fatalf("got code=%s field=%s, want %s/%s", e.Code(), e.Metadata()["field"], tc.code, tc.field)
			}
		})
	}
}

func TestMinOut(t *testing.T) {
	in := swapIntent()
	if !in.MinOut(50).IsZero() {
		t.Fatalf("no expectation means no floor")
	}
	in.ExpectedAmountOut = units.MustParse("2000")
	if got := in.MinOut(50).String(); got != "1990" {
		t.Fatalf("unexpected derived min out %s", got)
	}
	in.MinAmountOut = units.MustParse("1500")
	if got := in.MinOut(50).String(); got != "1500" {
		t.Fatalf("explicit min out should win, got %s", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	v := 10
	in := swapIntent()
	in.SlippageBps = &v
	in.Metadata = map[string]string{"strategy": "dca"}
	out := in.Clone()
	*out.SlippageBps = 20
	out.Metadata["strategy"] = "other"
	if *in.SlippageBps != 10 || in.Metadata["strategy"] != "dca" {
		t.Fatalf("clone shares state with original")
	}
}
