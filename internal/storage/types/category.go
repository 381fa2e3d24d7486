package types

import (
	"fmt"
	"strings"
)

// Category classifies a fault event.
//
// The numeric values are part of the external contract: callers persist and
// compare them, so they must never be renumbered.
type Category int32

const (
	// CategoryUnspecified matches every category when used as a query filter.
	CategoryUnspecified Category = 0

	// CategoryNativeCrash is a C/C++ crash caught by the native signal handler.
	CategoryNativeCrash Category = 2

	// CategoryScriptCrash is an uncaught error in the script runtime.
	CategoryScriptCrash Category = 3

	// CategoryAppFreeze is an application that stopped responding.
	CategoryAppFreeze Category = 4
)

// AllCategories returns every concrete fault category in numeric order.
func AllCategories() []Category {
	return []Category{CategoryNativeCrash, CategoryScriptCrash, CategoryAppFreeze}
}

// Valid reports whether c is one of the known values, including CategoryUnspecified.
func (c Category) Valid() bool {
	switch c {
	case CategoryUnspecified, CategoryNativeCrash, CategoryScriptCrash, CategoryAppFreeze:
		return true
	default:
		return false
	}
}

// Concrete reports whether c names a specific fault kind a record can carry.
func (c Category) Concrete() bool {
	return c.Valid() && c != CategoryUnspecified
}

// Name returns the event name used in reports (e.g. "CPP_CRASH").
func (c Category) Name() string {
	switch c {
	case CategoryUnspecified:
		return "NO_SPECIFIC"
	case CategoryNativeCrash:
		return "CPP_CRASH"
	case CategoryScriptCrash:
		return "JS_ERROR"
	case CategoryAppFreeze:
		return "APP_FREEZE"
	default:
		return "Unknown"
	}
}

// FileName returns the short name used in log file names (e.g. "cppcrash").
func (c Category) FileName() string {
	switch c {
	case CategoryUnspecified:
		return "all"
	case CategoryNativeCrash:
		return "cppcrash"
	case CategoryScriptCrash:
		return "jscrash"
	case CategoryAppFreeze:
		return "appfreeze"
	default:
		return "unknown"
	}
}

// String returns the short name of the category.
func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("unknown(%d)", int32(c))
	}
	return c.FileName()
}

// ParseCategory parses a short category name or event name.
// "all" maps to CategoryUnspecified.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all", "no_specific", "":
		return CategoryUnspecified, nil
	case "cppcrash", "cpp_crash", "native":
		return CategoryNativeCrash, nil
	case "jscrash", "js_error", "script":
		return CategoryScriptCrash, nil
	case "appfreeze", "app_freeze", "freeze":
		return CategoryAppFreeze, nil
	default:
		return 0, fmt.Errorf("unknown fault category %q", s)
	}
}
