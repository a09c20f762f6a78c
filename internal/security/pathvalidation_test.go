package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(dir, "escape")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(dir, "report.md"), false},
		{"new subdir", filepath.Join(dir, "runs", "a", "hist.png"), false},
		{"dot dot", filepath.Join(dir, "..", "report.md"), true},
		{"symlinked parent", filepath.Join(dir, "escape", "report.md"), true},
		{"elsewhere", filepath.Join(outside, "report.md"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, dir)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"survey_2024.ply":        "survey_2024.ply",
		"site A / scan #2":       "site_A_scan_2",
		"../../etc/passwd":       "etc_passwd",
		"":                       "unknown",
		"...":                    "unknown",
		"déblai-remblai":         "d_blai-remblai",
		"__leading_and_trailing": "leading_and_trailing",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
