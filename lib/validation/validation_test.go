package validation

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRequired(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid string", "test", false},
		{"empty string", "", true},
		{"whitespace only", "   ", true},
		{"tab only", "\t", true},
		{"valid with spaces", " test ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Required("name", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Required() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrRequired) {
				t.Errorf("Required() error should wrap ErrRequired")
			}
		})
	}
}

func TestMaxLength(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		max     int
		wantErr bool
	}{
		{"under max", "test", 10, false},
		{"at max", "test", 4, false},
		{"over max", "testing", 4, true},
		{"unicode chars", "日本語", 5, false},
		{"unicode over", "日本語テスト", 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MaxLength("name", tt.value, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("MaxLength() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrTooLong) {
				t.Errorf("MaxLength() error should wrap ErrTooLong")
			}
		})
	}
}

func TestServerID(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr error
	}{
		{"simple", "ca_tor", nil},
		{"dash", "gb-london", nil},
		{"digits", "us2", nil},
		{"empty", "", ErrRequired},
		{"uppercase", "CA_TOR", ErrInvalidFormat},
		{"leading underscore", "_ca", ErrInvalidFormat},
		{"space", "ca tor", ErrInvalidFormat},
		{"too long", strings.Repeat("a", MaxServerIDLength+1), ErrTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ServerID("server", tt.value)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ServerID(%q) = %v, want %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestHostPort(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"ipv4", "203.0.113.7:51820", false},
		{"hostname", "vpn.example.net:51820", false},
		{"ipv6", "[2001:db8::1]:51820", false},
		{"no port", "vpn.example.net", true},
		{"empty host", ":51820", true},
		{"non numeric port", "vpn.example.net:wg", true},
		{"port out of range", "vpn.example.net:70000", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := HostPort("endpoint", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("HostPort(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestHost(t *testing.T) {
	valid := []string{"idp.example.net", "idp.example.net:443", "192.0.2.1", "2001:db8::5"}
	for _, v := range valid {
		if err := Host("host", v); err != nil {
			t.Errorf("Host(%q) unexpected error: %v", v, err)
		}
	}
	invalid := []string{"", "bad host", "idp.example.net:abc", "http://x/y"}
	for _, v := range invalid {
		if err := Host("host", v); err == nil {
			t.Errorf("Host(%q) expected error", v)
		}
	}
}

func TestAddr(t *testing.T) {
	if err := Addr("dns", "1.1.1.1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := Addr("dns", "1.1.1.1/32"); err == nil {
		t.Error("prefix is not a bare address")
	}
}

func TestInterfaceName(t *testing.T) {
	if err := InterfaceName("tunnel.name", "wg0"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := InterfaceName("tunnel.name", "0wg"); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
	if err := InterfaceName("tunnel.name", "averyveryverylongname"); !errors.Is(err, ErrTooLong) {
		t.Errorf("expected ErrTooLong, got %v", err)
	}
}

func TestURL(t *testing.T) {
	if err := URL("endpoint", "https://issuer.example.net"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, v := range []string{"", "issuer.example.net", "ftp://issuer.example.net", "https://"} {
		if err := URL("endpoint", v); err == nil {
			t.Errorf("URL(%q) expected error", v)
		}
	}
}

func TestRanges(t *testing.T) {
	if err := IntRange("mtu", 1420, 576, 9000); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := IntRange("mtu", 100, 576, 9000); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if err := DurationRange("delay", 2*time.Second, time.Second, time.Minute); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := DurationRange("delay", 0, time.Second, time.Minute); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if err := Port("port", 0); err == nil {
		t.Error("port 0 should be rejected")
	}
}

func TestResultError(t *testing.T) {
	r := NewResult("tunnel.mtu", "must be positive", ErrOutOfRange)
	if r.Error() != "tunnel.mtu: must be positive" {
		t.Errorf("unexpected message %q", r.Error())
	}
	r = NewResult("", "bad", ErrInvalidFormat)
	if r.Error() != "bad" {
		t.Errorf("unexpected message %q", r.Error())
	}
}

func TestAll(t *testing.T) {
	err := All(
		func() error { return nil },
		func() error { return ServerID("server", "BAD") },
		func() error { t.Error("All should stop at the first error"); return nil },
	)
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestErrorsCollection(t *testing.T) {
	var errs Errors
	if errs.Err() != nil || errs.HasErrors() {
		t.Fatal("empty collection should report no errors")
	}

	errs.Add(nil)
	errs.Add(Required("a", ""))
	if errs.Error() != "a: is required" {
		t.Errorf("unexpected single message %q", errs.Error())
	}

	errs.Add(Port("b", 0))
	if !errs.HasErrors() || len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	if !strings.HasPrefix(errs.Error(), "multiple validation errors: ") {
		t.Errorf("unexpected message %q", errs.Error())
	}
	err := errs.Err()
	if !errors.Is(err, ErrRequired) || !errors.Is(err, ErrOutOfRange) {
		t.Errorf("collected error %v should match every sentinel", err)
	}
}
