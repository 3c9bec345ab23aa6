package email

import (
	"strings"
	"testing"
)

func TestIsConfigured(t *testing.T) {
	cases := []struct {
		name   string
		config Config
		want   bool
	}{
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com"}, want: true},
		{name: "empty", config: Config{}, want: false},
		{name: "missing host", config: Config{Port: "587", From: "noreply@example.com"}, want: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NewService(tc.config).IsConfigured(); got != tc.want {
				t.Fatalf("IsConfigured() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSendRequiresConfiguration(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendConfirmationEmail("a@x.com", "Ana", "https://example.com/confirm?token=t"); err == nil {
		t.Fatal("expected error when SMTP is not configured")
	}
}

func TestTemplatesRender(t *testing.T) {
	html, err := renderTemplate(confirmationEmailTemplate, confirmationData{
		AppName:         "MedKey",
		UserName:        "Ana",
		ConfirmationURL: "https://example.com/confirm?token=abc",
	})
	if err != nil {
		t.Fatalf("render confirmation: %v", err)
	}
	for _, want := range []string{"Ana", "https://example.com/confirm?token=abc", "24 hours"} {
		if !strings.Contains(html, want) {
			t.Errorf("confirmation email missing %q", want)
		}
	}

	html, err = renderTemplate(passwordResetEmailTemplate, passwordResetData{
		AppName:  "MedKey",
		UserName: "Ana",
		ResetURL: "https://example.com/reset?token=abc",
	})
	if err != nil {
		t.Fatalf("render reset: %v", err)
	}
	if !strings.Contains(html, "https://example.com/reset?token=abc") {
		t.Error("reset email missing reset URL")
	}
}
