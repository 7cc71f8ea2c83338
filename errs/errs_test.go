package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesCanonicalAndVenue(t *testing.T) {
	err := New(
		"cexio",
		CodeExchange,
		WithHTTP(400),
		WithMessage("order rejected"),
		WithRawCode("insufficient funds"),
		WithRawMessage("balance too low"),
		WithCanonicalCode(CanonicalOrderNotFound),
		WithVenueField("action", "do_my_new_order"),
		WithVenueField("pair", "BTC-USDT"),
		WithCause(errors.New("cexio http 400")),
	)

	out := err.Error()
	if !strings.Contains(out, "exchange=cexio") {
		t.Fatalf("expected exchange marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=exchange_error") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "canonical=order_not_found") {
		t.Fatalf("expected canonical classification in error string: %s", out)
	}
	expectedVenue := "venue=action=\"do_my_new_order\",pair=\"BTC-USDT\""
	if !strings.Contains(out, expectedVenue) {
		t.Fatalf("expected venue metadata %q in error string: %s", expectedVenue, out)
	}
	if !strings.Contains(out, "cause=\"cexio http 400\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestWithCanonicalCodeEmptyDefaultsToUnknown(t *testing.T) {
	err := New("htx", CodeInvalid, WithCanonicalCode("   "))
	if err.Canonical != CanonicalUnknown {
		t.Fatalf("expected canonical code to default to unknown, got %q", err.Canonical)
	}
	if strings.Contains(err.Error(), "canonical=") {
		t.Fatalf("canonical marker should be omitted when code is unknown: %s", err.Error())
	}
}

func TestIsMatchesWrappedEnvelope(t *testing.T) {
	wrapped := fmt.Errorf("stop: %w", NotConnected("cexio"))
	if !Is(wrapped, CodeNetwork) {
		t.Fatalf("expected wrapped not-connected error to match CodeNetwork")
	}
	if Is(wrapped, CodeAuth) {
		t.Fatalf("did not expect CodeAuth match")
	}
	if got := CanonicalOf(wrapped); got != CanonicalNotConnected {
		t.Fatalf("expected canonical not_connected, got %q", got)
	}
	if Is(errors.New("plain"), CodeNetwork) {
		t.Fatalf("plain errors must not match")
	}
}

func TestIsConsultsOnlyOutermostEnvelope(t *testing.T) {
	inner := New("cexio", CodeAuth, WithMessage("signature rejected"))
	outer := fmt.Errorf("place: %w", New("cexio", CodeExchange, WithCause(inner)))
	if !Is(outer, CodeExchange) {
		t.Fatalf("expected outer envelope code to match")
	}
	if Is(outer, CodeAuth) {
		t.Fatalf("did not expect nested envelope code to match")
	}
	var nested *E
	if !errors.As(errors.Unwrap(errors.Unwrap(outer)), &nested) || nested.Code != CodeAuth {
		t.Fatalf("expected nested envelope to stay reachable through Unwrap")
	}
}

func TestUnmappedCarriesRawValue(t *testing.T) {
	err := Unmapped("cexio", "order state", "SOMETHING_NEW")
	if err.Code != CodeUnrecognized {
		t.Fatalf("expected unrecognized code, got %q", err.Code)
	}
	if err.RawMsg != "SOMETHING_NEW" {
		t.Fatalf("expected raw value to be kept, got %q", err.RawMsg)
	}
	if err.VenueMetadata["field"] != "order state" {
		t.Fatalf("expected field metadata, got %v", err.VenueMetadata)
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}
