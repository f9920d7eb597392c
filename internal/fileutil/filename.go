package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	illegalChars = regexp.MustCompile(`[\/\\:*?"<>|]`)
	whitespace   = regexp.MustCompile(`[\s_]+`)
)

// SanitizeForFilename sanitizes a string for safe use in filenames
func SanitizeForFilename(input string) string {
	sanitized := illegalChars.ReplaceAllString(input, "_")
	sanitized = whitespace.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-.")

	// Limit length to 50 characters for reasonable filenames
	if len(sanitized) > 50 {
		sanitized = strings.TrimRight(sanitized[:50], "-")
	}
	if sanitized == "" {
		return "recording"
	}
	return sanitized
}

// CacheDirFor returns the per-input cache directory under root:
// <sanitized name>-<8 hex digits>. The suffix hashes the absolute path, size
// and modification time so a replaced file gets a fresh directory.
func CacheDirFor(root, input string) (string, error) {
	abs, err := filepath.Abs(input)
	if err != nil {
		return "", fmt.Errorf("resolve input path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d", abs, info.Size(), info.ModTime().UnixNano())
	sum := hex.EncodeToString(h.Sum(nil))[:8]

	name := SanitizeForFilename(strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)))
	return filepath.Join(root, name+"-"+sum), nil
}

// OutputBase returns the output path without extension for input. An empty
// outDir places outputs next to the input.
func OutputBase(input, outDir string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if outDir == "" {
		outDir = filepath.Dir(input)
	}
	return filepath.Join(outDir, base)
}
