package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"typed error", newError(FailResourceExhausted, "gpu full"), FailResourceExhausted},
		{"wrapped typed error", fmt.Errorf("synthesize: %w", newError(FailTimeout, "slow")), FailTimeout},
		{"deadline", context.DeadlineExceeded, FailTimeout},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), FailTimeout},
		{"plain error", errors.New("something broke"), FailSynthesis},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	err := newError(FailConfiguration, "bad model %q", "x")
	if err.Error() != `configuration: bad model "x"` {
		t.Fatalf("Error() = %q", err.Error())
	}
	bare := &Error{Kind: FailSynthesis}
	if bare.Error() != "synthesis" {
		t.Fatalf("Error() = %q", bare.Error())
	}
	if !errors.Is(err, err.Err) {
		t.Fatal("Unwrap broken")
	}
}
