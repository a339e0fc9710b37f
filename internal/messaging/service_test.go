package messaging

import (
	"testing"
)

func TestValidateAndCanonicalizeRecipient(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		want      string
		wantErr   bool
	}{
		{name: "already E.164", recipient: "+15551234567", want: "+15551234567"},
		{name: "formatted US number", recipient: "(555) 123-4567", want: "+5551234567"},
		{name: "dots and spaces", recipient: "1 555.123.4567", want: "+15551234567"},
		{name: "whatsapp prefix", recipient: "whatsapp:+15551234567", want: "+15551234567"},
		{name: "empty", recipient: "", wantErr: true},
		{name: "whitespace only", recipient: "   ", wantErr: true},
		{name: "no digits", recipient: "abc", wantErr: true},
		{name: "too short", recipient: "+12345", wantErr: true},
		{name: "minimum length", recipient: "123456", want: "+123456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateAndCanonicalizeRecipient(tt.recipient)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %q", tt.recipient, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ValidateAndCanonicalizeRecipient(%q) = %q, want %q", tt.recipient, got, tt.want)
			}
		})
	}
}

// Ensure both channels implement Service
func TestServicesImplementService(t *testing.T) {
	var _ Service = (*SMSService)(nil)
	var _ Service = (*WhatsAppService)(nil)
	var _ Sender = (*Deliverer)(nil)
}
