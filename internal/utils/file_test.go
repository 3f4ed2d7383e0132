package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateInputFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "resume.md")
	require.NoError(t, os.WriteFile(file, []byte("# Resume"), 0o600))

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"readable file", file, ""},
		{"empty name", "", "filename cannot be empty"},
		{"missing", filepath.Join(dir, "missing.md"), "file does not exist"},
		{"directory", dir, "path is a directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInputFile(tt.path)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateOutputFileCreatesDirectory(t *testing.T) {
	out := filepath.Join(t.TempDir(), "reports", "today", "report.md")
	require.NoError(t, ValidateOutputFile(out))

	info, err := os.Stat(filepath.Dir(out))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.NoError(t, ValidateOutputFile(""))
}

func TestIsTextFile(t *testing.T) {
	assert.True(t, IsTextFile("notes.TXT"))
	assert.True(t, IsTextFile("report.json"))
	assert.True(t, IsTextFile("config.yml"))
	assert.False(t, IsTextFile("resume.pdf"))
}

func TestFileSize(t *testing.T) {
	file := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("12345"), 0o600))

	assert.Equal(t, int64(5), FileSize(file))
	assert.Equal(t, int64(0), FileSize(file+".missing"))
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatFileSize(512))
	assert.Equal(t, "1.0 KB", FormatFileSize(1024))
	assert.Equal(t, "1.5 MB", FormatFileSize(1536*1024))
}
