package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("Validation errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("      hint: %s\n", suggestion))
			}
		}
		builder.WriteString("\n")
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("Validation warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("      hint: %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

// ValidateConfigWithDetails performs validation with detailed feedback. It
// reports problems Load would accept silently, such as a missing root file.
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateRenderConfigDetails(&config.Render, result)
	validateDataConfigDetails(&config.Data, result)
	validateWatchConfigDetails(&config.Watch, result)
	validateServerConfigDetails(&config.Server, result)

	result.Valid = !result.HasErrors()

	return result
}

func validateRenderConfigDetails(config *RenderConfig, result *ValidationResult) {
	if config.Concurrency < 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "render.concurrency",
			Value:   config.Concurrency,
			Message: "concurrency must be at least 1",
			Suggestions: []string{
				"The default of 100 suits most documents",
				"Use 1 to process elements one at a time while debugging",
			},
		})
	} else if config.Concurrency > 10000 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "render.concurrency",
			Value:   config.Concurrency,
			Message: "very high concurrency rarely helps",
		})
	}

	if config.Locale != "" {
		if _, err := language.Parse(strings.ReplaceAll(config.Locale, "_", "-")); err != nil {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:       "render.locale",
				Value:       config.Locale,
				Message:     fmt.Sprintf("locale is not a valid language tag: %v", err),
				Suggestions: []string{"Use a BCP 47 tag such as 'en', 'en-GB' or 'de-DE'"},
			})
		}
	}

	if _, err := time.LoadLocation(config.Timezone); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "render.timezone",
			Value:       config.Timezone,
			Message:     "unknown timezone",
			Suggestions: []string{"Use an IANA zone name such as 'UTC' or 'Europe/Berlin'"},
		})
	}
}

var knownFormats = []string{"json", "jsonc", "yaml", "yml", "cbor", "html", "htm", "xml", "md", "markdown"}

func validateDataConfigDetails(config *DataConfig, result *ValidationResult) {
	if config.Root != "" && !pathExists(config.Root) {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "data.root",
			Value:       config.Root,
			Message:     "root data file does not exist",
			Suggestions: []string{"Check the path relative to the working directory"},
		})
	}
	if config.Format != "" && !contains(knownFormats, strings.ToLower(config.Format)) {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "data.format",
			Value:       config.Format,
			Message:     "unknown data format",
			Suggestions: []string{"Available formats: " + strings.Join(knownFormats, ", ")},
		})
	}
}

var globChars = regexp.MustCompile(`[*?\[]`)

func validateWatchConfigDetails(config *WatchConfig, result *ValidationResult) {
	if config.Debounce > 0 && config.Debounce < 10*time.Millisecond {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:       "watch.debounce",
			Value:       config.Debounce,
			Message:     "debounce below 10ms may render several times per save",
			Suggestions: []string{"Editors often write files in several steps; 100ms-500ms works well"},
		})
	}
	for _, path := range config.Paths {
		if err := validatePath(path); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "watch.paths",
				Value:   path,
				Message: err.Error(),
			})
			continue
		}
		if !globChars.MatchString(path) && !pathExists(path) {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:   "watch.paths",
				Value:   path,
				Message: "watch path does not exist",
			})
		}
	}
}

func validateServerConfigDetails(config *ServerConfig, result *ValidationResult) {
	if config.Port < 0 || config.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Value:   config.Port,
			Message: fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			Suggestions: []string{
				"Use a port between 1024-65535 for non-privileged access",
				"Port 0 allows system to assign an available port",
			},
		})
	} else if config.Port > 0 && config.Port < 1024 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:       "server.port",
			Value:       config.Port,
			Message:     "port below 1024 requires elevated privileges",
			Suggestions: []string{"Consider using a port above 1024 for development"},
		})
	}

	if config.Host != "" {
		if err := validateHostname(config.Host); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.host",
				Value:   config.Host,
				Message: err.Error(),
				Suggestions: []string{
					"Use 'localhost' for local development",
					"Use '0.0.0.0' to bind to all interfaces",
				},
			})
		}
	}

	for _, origin := range config.AllowedOrigins {
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:       "server.allowed_origins",
				Value:       origin,
				Message:     "origin without scheme never matches",
				Suggestions: []string{"Write origins as 'http://host:port'"},
			})
		}
	}
}

var hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9.-]*[a-zA-Z0-9])?$`)

func validateHostname(host string) error {
	if net.ParseIP(host) != nil {
		return nil
	}
	if len(host) > 253 {
		return fmt.Errorf("hostname too long")
	}
	if !hostnamePattern.MatchString(host) {
		return fmt.Errorf("invalid hostname %q", host)
	}
	return nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
