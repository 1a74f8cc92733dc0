package security

import (
	"errors"
	"testing"
)

func TestValidateResultURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"https public host", "https://cdn.petsphoto.test/job-1.png", nil},
		{"http rejected", "http://cdn.petsphoto.test/job-1.png", ErrInvalidScheme},
		{"file scheme rejected", "file:///etc/passwd", ErrInvalidScheme},
		{"loopback rejected", "https://127.0.0.1/x.png", ErrPrivateIP},
		{"private range rejected", "https://10.0.0.5/x.png", ErrPrivateIP},
		{"link local rejected", "https://169.254.1.1/x.png", ErrPrivateIP},
		{"cgnat rejected", "https://100.64.0.1/x.png", ErrPrivateIP},
		{"public ip allowed", "https://93.184.216.34/x.png", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateResultURL(tt.url)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateResultURL(%q) = %v, want %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSavePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"simple name", "result.png", nil},
		{"nested relative", "out/result.png", nil},
		{"absolute allowed", "/tmp/result.png", nil},
		{"traversal rejected", "../result.png", ErrPathTraversal},
		{"embedded traversal rejected", "out/../../result.png", ErrPathTraversal},
		{"reserved name rejected", "con.png", ErrReservedName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSavePath(tt.path)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSavePath(%q) = %v, want %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"rex.png", "rex.png"},
		{"a/b:c.png", "a-b-c.png"},
		{"...dots.png", "dots.png"},
		{"", "image"},
		{"con", "con_"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizeFilename(tt.in); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
