package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.0", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"0.01", "0.01", true},
		{"1.005", "1.01", true}, // half-up rounding
		{" 2.50 ", "2.5", true},
		{".5", "0.5", true},
		{"-1", "", false},
		{"+1", "", false},
		{"0", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{".", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error, got %s", tc.in, got)
		}
	}
}

func TestParseSignedAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"5000", "5000", true},
		{"+5000", "5000", true},
		{"-2000", "-2000", true},
		{"-0,5", "-0.5", true},
		{"0", "", false},
		{"--1", "", false},
	}
	for _, tc := range cases {
		got, err := ParseSignedAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestParseBalanceAcceptsZero(t *testing.T) {
	got, err := ParseBalance("0")
	if err != nil || !got.IsZero() {
		t.Fatalf("expected zero balance, got %s (err=%v)", got, err)
	}
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", "₹0"},
		{"500", "₹500"},
		{"1000", "₹1,000"},
		{"123456", "₹1,23,456"},
		{"1234567.5", "₹12,34,567.50"},
		{"-2500.25", "₹-2,500.25"},
		{"99999999", "₹9,99,99,999"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got := FormatAmount(decimal.RequireFromString(tc.in))
			if got != tc.want {
				t.Fatalf("FormatAmount(%s) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
