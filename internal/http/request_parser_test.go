package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"ledger/internal/core"
)

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestParseID(t *testing.T) {
	tests := []struct {
		value   string
		want    int64
		wantErr bool
	}{
		{value: "42", want: 42},
		{value: "0", wantErr: true},
		{value: "-3", wantErr: true},
		{value: "abc", wantErr: true},
		{value: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			r := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", tt.value)
			got, err := ParseID(r, "id")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseID = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseOptionalID(t *testing.T) {
	got, err := ParseOptionalID("  ")
	if err != nil || got != nil {
		t.Errorf("blank = %v, %v; want nil, nil", got, err)
	}
	got, err = ParseOptionalID("7")
	if err != nil || got == nil || *got != 7 {
		t.Errorf("7 = %v, %v", got, err)
	}
	if _, err := ParseOptionalID("x"); err == nil {
		t.Error("expected error for non-numeric id")
	}
}

func TestParseCheckbox(t *testing.T) {
	for v, want := range map[string]bool{"on": true, "true": true, "1": true, "YES": true, "": false, "off": false} {
		if got := ParseCheckbox(v); got != want {
			t.Errorf("ParseCheckbox(%q) = %v", v, got)
		}
	}
}

func TestParseAmountField(t *testing.T) {
	d, err := ParseAmountField("200,50")
	if err != nil || d.String() != "200.5" {
		t.Errorf("ParseAmountField = %v, %v", d, err)
	}
	for _, v := range []string{"", "0", "-5", "abc"} {
		_, err := ParseAmountField(v)
		var verr *core.ValidationError
		if !errors.As(err, &verr) || verr.Field != "amount" {
			t.Errorf("ParseAmountField(%q) err = %v", v, err)
		}
	}
}

func TestRequestBodyParser(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantJSON    bool
	}{
		{"form", "application/x-www-form-urlencoded", "email=+a%40b.c+&password=+pw+", false},
		{"json", "application/json", `{"email":" a@b.c ","password":" pw "}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", tt.contentType)
			p := NewRequestBodyParser(r)
			if err := p.Parse(); err != nil {
				t.Fatal(err)
			}
			if p.IsJSON() != tt.wantJSON {
				t.Errorf("IsJSON = %v", p.IsJSON())
			}
			if got := p.Get("email"); got != "a@b.c" {
				t.Errorf("Get(email) = %q", got)
			}
			if got := p.Secret("password"); got != " pw " {
				t.Errorf("Secret(password) = %q", got)
			}
			if got := p.Get("missing"); got != "" {
				t.Errorf("Get(missing) = %q", got)
			}
		})
	}
}

func TestRequestBodyParser_InvalidJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"broken"`))
	r.Header.Set("Content-Type", "application/json")
	if err := NewRequestBodyParser(r).Parse(); err == nil {
		t.Fatal("expected error")
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := sanitizeInput("  Al\x00ex\t "); got != "Alex" {
		t.Errorf("sanitizeInput = %q", got)
	}
}
