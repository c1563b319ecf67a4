package validation

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestValidProductCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"12345678", true},
		{"1234567890", true},
		{"123456789012", true},
		{"", false},
		{"1234567", false},
		{"123456789", false},
		{"12345678901", false},
		{"1234567890123", false},
		{"1234567a", false},
		{" 12345678", false},
		{"12345678\n", false},
		{"１２３４５６７８", false}, // full-width digits are not ASCII
		{"-1234567", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidProductCode(tt.code))
		})
	}
}

func TestValidateProductCode_CollectsError(t *testing.T) {
	ve := &ValidationErrors{}
	ValidateProductCode(ve, "product_code", "abc")
	assert.True(t, ve.HasErrors())
	assert.Equal(t, "product_code: must be 8, 10 or 12 digits", ve.Error())
}

func TestValidationErrors_Err(t *testing.T) {
	ve := &ValidationErrors{}
	assert.NoError(t, ve.Err())

	RequireField(ve, "username", "  ")
	ValidateEnum(ve, "role", "root", ValidRoles)
	assert.Error(t, ve.Err())
	assert.Len(t, ve.Errors, 2)
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		wantErr bool
	}{
		{"plain pdf", "dip.pdf", false},
		{"spreadsheet", "OQC checklist v2.xlsx", false},
		{"traversal", "../../etc/passwd", true},
		{"windows traversal", `..\..\boot.ini`, true},
		{"double dot inside name", "rev1..2 SOP.pdf", false},
		{"punctuation", "Q&A rev;2.pdf", false},
		{"executable", "setup.exe", true},
		{"script upper case", "RUN.BAT", true},
		{"null byte", "a\x00.pdf", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ve := &ValidationErrors{}
			ValidateFilename(ve, tt.file)
			assert.Equal(t, tt.wantErr, ve.HasErrors(), ve.Error())
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "report.pdf", SanitizeFilename("/tmp/upload/report.pdf"))
	assert.Equal(t, "report.pdf", SanitizeFilename(`C:\Users\qa\report.pdf`))
	assert.Equal(t, "document", SanitizeFilename(""))
	assert.Equal(t, "document", SanitizeFilename(".."))
	assert.Equal(t, "tab.pdf", SanitizeFilename("t\tab\x00.pdf"))
}

func TestSanitizeFilename_KeepsOriginalCharacters(t *testing.T) {
	for _, name := range []string{
		"Q&A rev;2.pdf",
		"Line A: DIP.docx",
		"v1..2.pdf",
		"cost $40 (final).xlsx",
		"組立手順書 第2版.pdf",
	} {
		assert.Equal(t, name, SanitizeFilename(name))
	}
}

func TestSanitizeFilename_LongNames(t *testing.T) {
	got := SanitizeFilename(strings.Repeat("x", 300) + ".pdf")
	assert.Len(t, got, 154)

	cjk := strings.Repeat("a", 149) + strings.Repeat("測", 30) + ".pdf"
	got = SanitizeFilename(cjk)
	assert.True(t, utf8.ValidString(got), "%q", got)
	assert.True(t, strings.HasSuffix(got, ".pdf"))
	assert.LessOrEqual(t, len(got), 154)
	assert.Equal(t, strings.Repeat("a", 149)+".pdf", got)
}
