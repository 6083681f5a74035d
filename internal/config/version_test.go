package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		name      string
		version   int
		wantErr   bool
		wantNewer bool
	}{
		{"current", CurrentVersion, false, false},
		{"zero", 0, true, false},
		{"negative", -1, true, false},
		{"newer", CurrentVersion + 1, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *VersionError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *VersionError, got %T", err)
			}
			if ve.Newer != tt.wantNewer {
				t.Errorf("expected Newer=%v, got %v", tt.wantNewer, ve.Newer)
			}
			if tt.wantNewer && !strings.Contains(err.Error(), "upgrade agentrt") {
				t.Errorf("expected upgrade hint, got %q", err.Error())
			}
		})
	}
}
