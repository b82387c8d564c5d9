// validate.go contains validation logic for configuration settings
package conf

import (
	"fmt"
	"strings"
)

// ValidationError collects every problem found in one pass.
type ValidationError struct {
	Errors []string
}

// Error implements the error interface for ValidationError
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %v", ve.Errors)
}

// ValidateSettings checks the settings that the proxy cannot run without.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateUpstreamSettings(&settings.Upstream); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateCacheSettings(&settings.Cache); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateStoreSettings(&settings.Store); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateTelemetrySettings(&settings.Telemetry); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if settings.Server.Listen == "" {
		ve.Errors = append(ve.Errors, "server listen address must not be empty")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateUpstreamSettings(s *UpstreamSettings) error {
	if err := validateOrigin(s.AppOrigin); err != nil {
		return fmt.Errorf("upstream app origin: %w", err)
	}
	if err := validateOrigin(s.APIOrigin); err != nil {
		return fmt.Errorf("upstream api origin: %w", err)
	}
	if !strings.HasPrefix(s.APIPrefix, "/") || !strings.HasSuffix(s.APIPrefix, "/") {
		return fmt.Errorf("upstream api prefix %q must start and end with /", s.APIPrefix)
	}
	if !strings.HasPrefix(s.ListingPath, s.APIPrefix) {
		return fmt.Errorf("upstream listing path %q must be under api prefix %q", s.ListingPath, s.APIPrefix)
	}
	return nil
}

func validateCacheSettings(s *CacheSettings) error {
	if s.Prefix == "" {
		return fmt.Errorf("cache prefix must not be empty")
	}
	if s.Version == "" {
		return fmt.Errorf("cache version must not be empty")
	}
	if s.Path == "" {
		return fmt.Errorf("cache path must not be empty")
	}
	if s.InstallConcurrency <= 0 {
		return fmt.Errorf("cache install concurrency must be positive, got %d", s.InstallConcurrency)
	}
	for _, asset := range s.Manifest {
		if !strings.HasPrefix(asset, "/") {
			return fmt.Errorf("cache manifest entry %q must be an absolute path", asset)
		}
	}
	return nil
}

func validateStoreSettings(s *StoreSettings) error {
	if s.Path == "" {
		return fmt.Errorf("store path must not be empty")
	}
	if s.PageSize <= 0 {
		return fmt.Errorf("store page size must be positive, got %d", s.PageSize)
	}
	if s.ImageRate <= 0 {
		return fmt.Errorf("store image rate must be positive, got %g", s.ImageRate)
	}
	return nil
}

func validateTelemetrySettings(s *TelemetrySettings) error {
	if !s.Enabled {
		return nil
	}
	if s.DSN == "" {
		return fmt.Errorf("telemetry is enabled but no DSN is set")
	}
	if s.SampleRate < 0 || s.SampleRate > 1 {
		return fmt.Errorf("telemetry sample rate must be between 0 and 1, got %g", s.SampleRate)
	}
	return nil
}
