package auth

import (
	"errors"
	"testing"
	"time"
)

func TestDevTokens(t *testing.T) {
	v := NewVerifier("", "")
	cases := []struct {
		tok     string
		want    Principal
		wantErr bool
	}{
		{tok: "operator", want: Principal{Role: RoleOperator}},
		{tok: "Driver:D1", want: Principal{Role: RoleDriver, DriverID: "D1"}},
		{tok: "driver", wantErr: true},
		{tok: "admin:x", wantErr: true},
		{tok: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := v.Verify(tc.tok)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify(%q) err = %v", tc.tok, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("Verify(%q) = %+v %v", tc.tok, got, err)
		}
	}
}

func TestHMACRoundTrip(t *testing.T) {
	v := NewVerifier("hmac", "s3cret")
	tok, err := v.Sign(Principal{Role: RoleDriver, DriverID: "D7", Name: "Ana"}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsDriver() || p.DriverID != "D7" || p.Name != "Ana" {
		t.Fatalf("principal = %+v", p)
	}

	other := NewVerifier("hmac", "other")
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret err = %v", err)
	}
	expired, _ := v.Sign(Principal{Role: RoleOperator}, -time.Minute)
	if _, err := v.Verify(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired err = %v", err)
	}
	if _, err := v.Verify("operator"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("dev token in hmac mode err = %v", err)
	}
}
