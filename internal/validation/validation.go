package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ValidationError represents a structured validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects multiple field errors.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (ve *ValidationErrors) Add(field, message string) {
	ve.Errors = append(ve.Errors, ValidationError{Field: field, Message: message})
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

func (ve *ValidationErrors) Error() string {
	msgs := make([]string, len(ve.Errors))
	for i, e := range ve.Errors {
		msgs[i] = e.Field + ": " + e.Message
	}
	return strings.Join(msgs, "; ")
}

// Err returns ve as an error, or nil when nothing was collected.
func (ve *ValidationErrors) Err() error {
	if !ve.HasErrors() {
		return nil
	}
	return ve
}

// RequireField checks a required string field is non-empty.
func RequireField(ve *ValidationErrors, field, value string) {
	if strings.TrimSpace(value) == "" {
		ve.Add(field, "is required")
	}
}

// ValidateEnum checks a field is one of allowed values.
func ValidateEnum(ve *ValidationErrors, field, value string, allowed []string) {
	if value == "" {
		return
	}
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	ve.Add(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

// ValidateMaxLength checks string doesn't exceed max length.
func ValidateMaxLength(ve *ValidationErrors, field, value string, max int) {
	if len(value) > max {
		ve.Add(field, fmt.Sprintf("must be at most %d characters", max))
	}
}

const (
	MaxNameLength = 255
	MaxTextLength = 10000
)

// ProductCodePattern accepts exactly 8, 10 or 12 ASCII digits.
var ProductCodePattern = regexp.MustCompile(`^(?:[0-9]{8}|[0-9]{10}|[0-9]{12})$`)

// ValidProductCode reports whether code is a well-formed product code.
func ValidProductCode(code string) bool {
	return ProductCodePattern.MatchString(code)
}

// ValidateProductCode adds an error when code is not 8, 10 or 12 digits.
func ValidateProductCode(ve *ValidationErrors, field, code string) {
	if !ValidProductCode(code) {
		ve.Add(field, "must be 8, 10 or 12 digits")
	}
}

// DangerousExtensions is the list of blocked file extensions.
var DangerousExtensions = []string{
	".exe", ".bat", ".cmd", ".com", ".scr", ".pif", ".app", ".dmg", ".pkg",
	".sh", ".bash", ".zsh", ".fish", ".csh", ".tcsh",
	".vbs", ".vbe", ".js", ".jse", ".ws", ".wsf", ".wsh",
	".msi", ".msp", ".jar", ".war", ".ear",
	".ps1", ".psm1", ".psd1", ".ps1xml", ".pssc", ".cdxml",
	".reg", ".dll", ".so", ".dylib",
	".apk", ".ipa", ".deb", ".rpm",
}

// ValidateFilename checks for path traversal, control bytes and blocked
// extensions in an uploaded document name.
func ValidateFilename(ve *ValidationErrors, filename string) {
	if filename == "" {
		ve.Add("filename", "is required")
		return
	}

	for _, part := range strings.FieldsFunc(filename, isPathSeparator) {
		if part == ".." {
			ve.Add("filename", "contains invalid path traversal sequence (..)")
			break
		}
	}
	if strings.Contains(filename, "\x00") {
		ve.Add("filename", "contains null bytes")
	}
	if strings.ContainsAny(filename, "\r\n") {
		ve.Add("filename", "contains line breaks")
	}

	ext := strings.ToLower(filepath.Ext(filename))
	for _, dangerous := range DangerousExtensions {
		if ext == dangerous {
			ve.Add("filename", fmt.Sprintf("file type not allowed: %s", ext))
			return
		}
	}
}

func isPathSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

// Name length limits applied by SanitizeFilename, in bytes.
const (
	maxFilenameBytes = 200
	maxStemBytes     = 150
)

// SanitizeFilename keeps the last path component of filename and drops
// control characters. Everything else is kept as uploaded.
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filepath.Base(filename)
	filename = strings.Map(func(r rune) rune {
		if r == '/' || unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.ToValidUTF8(filename, ""))

	if len(filename) > maxFilenameBytes {
		ext := filepath.Ext(filename)
		if len(ext) > maxFilenameBytes-maxStemBytes {
			ext = ""
		}
		filename = truncateUTF8(strings.TrimSuffix(filename, ext), maxStemBytes) + ext
	}
	if filename == "" || filename == "." || filename == ".." {
		filename = "document"
	}
	return filename
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
