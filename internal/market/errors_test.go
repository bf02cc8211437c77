package market

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfThroughWrapChain(t *testing.T) {
	base := NotFoundf("no data for %s", "SPY")
	wrapped := fmt.Errorf("build failed: %w", base)

	if got := KindOf(wrapped); got != KindNotFound {
		t.Fatalf("KindOf = %v, want KindNotFound", got)
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Fatalf("KindOf(plain) = %v, want KindInternal", got)
	}
	if got := KindOf(nil); got != KindInternal {
		t.Fatalf("KindOf(nil) = %v, want KindInternal", got)
	}
}

func TestErrorfWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Errorf(KindUpstream, "chart fetch: %w", cause)

	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause must survive errors.Is")
	}
	if err.Error() != "chart fetch: connection refused" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestKindStrings(t *testing.T) {
	if KindRateLimited.String() != "rate_limited" {
		t.Fatalf("unexpected: %s", KindRateLimited)
	}
	if KindInternal.String() != "internal" {
		t.Fatalf("unexpected: %s", KindInternal)
	}
}
