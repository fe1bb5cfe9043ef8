package billing

import (
	"errors"
	"testing"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "active", want: StatusActive},
		{in: "ACTIVE", want: StatusActive},
		{in: " trialing ", want: StatusTrialing},
		{in: "past_due", want: StatusPastDue},
		{in: "canceled", want: StatusCanceled},
		{in: "incomplete_expired", want: StatusIncompleteExpired},
		{in: "unpaid", want: StatusUnpaid},
		{in: "payment_failed", want: StatusPaymentFailed},
	}

	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		if err != nil {
			t.Fatalf("ParseStatus(%q) returned error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseStatus_Unknown(t *testing.T) {
	for _, in := range []string{"", "paused", "gone", "refunded"} {
		_, err := ParseStatus(in)
		if err == nil {
			t.Fatalf("ParseStatus(%q) expected error", in)
		}
		var uerr *UnexpectedStateError
		if !errors.As(err, &uerr) {
			t.Fatalf("ParseStatus(%q) error = %v, want UnexpectedStateError", in, err)
		}
	}
}

func TestRoleGranted(t *testing.T) {
	for _, status := range []string{StatusActive, StatusTrialing, "ACTIVE", " trialing "} {
		if !RoleGranted(status) {
			t.Fatalf("expected status %q to grant the role", status)
		}
	}
	for _, status := range []string{StatusNone, StatusIncomplete, StatusIncompleteExpired, StatusPastDue, StatusPaymentFailed, StatusCanceled, StatusUnpaid, ""} {
		if RoleGranted(status) {
			t.Fatalf("expected status %q to revoke the role", status)
		}
	}
}
