package attach

import "fmt"

// Category is one of the five SOP document kinds a record can carry. Each
// category owns one target directory and one issues column.
type Category string

const (
	DipSOP       Category = "dip_sop"
	AssemblySOP  Category = "assembly_sop"
	TestSOP      Category = "test_sop"
	PackagingSOP Category = "packaging_sop"
	OQCChecklist Category = "oqc_checklist"
)

// Categories lists every category in display order.
var Categories = []Category{DipSOP, AssemblySOP, TestSOP, PackagingSOP, OQCChecklist}

// ParseCategory maps a name to a Category.
func ParseCategory(name string) (Category, error) {
	for _, c := range Categories {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownCategory, name)
}

// Column returns the issues column holding this category's file path. The
// result is always one of five fixed identifiers, so it is safe to splice
// into SQL text.
func (c Category) Column() string {
	switch c {
	case DipSOP:
		return "dip_sop"
	case AssemblySOP:
		return "assembly_sop"
	case TestSOP:
		return "test_sop"
	case PackagingSOP:
		return "packaging_sop"
	case OQCChecklist:
		return "oqc_checklist"
	}
	panic(fmt.Sprintf("attach: invalid category %q", string(c)))
}

// Label is the human-readable name used in exports.
func (c Category) Label() string {
	switch c {
	case DipSOP:
		return "DIP SOP"
	case AssemblySOP:
		return "Assembly SOP"
	case TestSOP:
		return "Test SOP"
	case PackagingSOP:
		return "Packaging SOP"
	case OQCChecklist:
		return "OQC Checklist"
	}
	return string(c)
}
