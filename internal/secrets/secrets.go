// Package secrets resolves credentials embedded in configuration values.
// Push service URLs usually carry tokens, so they may reference environment
// variables or be kept in a mounted secret file instead of config.yaml.
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/storykeep/internal/errors"
)

const (
	// maxSecretFileSize limits secret file reads
	maxSecretFileSize = 64 * 1024

	// group/other permission bits that make a secret file too permissive
	permissiveBits = 0o077
)

// ExpandString resolves ${VAR} and ${VAR:-default} references.
// A referenced variable that is unset and has no default is an error.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing required environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret file, e.g. /run/secrets/push_urls. Trailing
// newlines are trimmed. The bool reports whether group or other users can
// read the file.
func ReadFile(path string) (secret string, permissive bool, err error) {
	if path == "" {
		return "", false, fileError(errors.NewStd("secret file path is empty"), path)
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		return "", false, fileError(err, clean)
	}
	if !info.Mode().IsRegular() {
		return "", false, fileError(errors.NewStd("secret path is not a regular file"), clean)
	}
	if info.Size() > maxSecretFileSize {
		return "", false, fileError(errors.NewStd("secret file too large"), clean)
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", false, fileError(err, clean)
	}
	secret = strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", false, fileError(errors.NewStd("secret file is empty"), clean)
	}
	return secret, info.Mode().Perm()&permissiveBits != 0, nil
}

// ResolveURLs expands every configured URL and appends the non-blank,
// non-comment lines of file when one is given.
func ResolveURLs(urls []string, file string) (resolved []string, permissive bool, err error) {
	for _, u := range urls {
		expanded, err := ExpandString(strings.TrimSpace(u))
		if err != nil {
			return nil, false, err
		}
		if expanded != "" {
			resolved = append(resolved, expanded)
		}
	}

	if file == "" {
		return resolved, false, nil
	}
	content, permissive, err := ReadFile(file)
	if err != nil {
		return nil, false, err
	}
	for line := range strings.Lines(content) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		resolved = append(resolved, line)
	}
	return resolved, permissive, nil
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component("secrets").
		Category(errors.CategoryConfiguration).
		Context("path", path).
		Build()
}
