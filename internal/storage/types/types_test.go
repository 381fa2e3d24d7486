package types

import (
	"testing"
	"time"
)

func TestCategoryValues(t *testing.T) {
	// External callers persist these numbers.
	tests := []struct {
		cat  Category
		want int32
	}{
		{CategoryUnspecified, 0},
		{CategoryNativeCrash, 2},
		{CategoryScriptCrash, 3},
		{CategoryAppFreeze, 4},
	}

	for _, tt := range tests {
		if int32(tt.cat) != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.cat, tt.want, int32(tt.cat))
		}
	}
}

func TestCategoryValid(t *testing.T) {
	if !CategoryUnspecified.Valid() {
		t.Error("unspecified should be valid")
	}
	if CategoryUnspecified.Concrete() {
		t.Error("unspecified should not be concrete")
	}
	if Category(1).Valid() {
		t.Error("1 should not be valid")
	}
	if Category(5).Valid() {
		t.Error("5 should not be valid")
	}
	for _, c := range AllCategories() {
		if !c.Concrete() {
			t.Errorf("%s should be concrete", c)
		}
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"all", CategoryUnspecified, false},
		{"ALL", CategoryUnspecified, false},
		{"cppcrash", CategoryNativeCrash, false},
		{"jscrash", CategoryScriptCrash, false},
		{"appfreeze", CategoryAppFreeze, false},
		{"APP_FREEZE", CategoryAppFreeze, false},
		{"sysfreeze", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCategory(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCategoryNames(t *testing.T) {
	if CategoryNativeCrash.Name() != "CPP_CRASH" {
		t.Errorf("unexpected name %s", CategoryNativeCrash.Name())
	}
	if CategoryScriptCrash.Name() != "JS_ERROR" {
		t.Errorf("unexpected name %s", CategoryScriptCrash.Name())
	}
	if CategoryAppFreeze.FileName() != "appfreeze" {
		t.Errorf("unexpected file name %s", CategoryAppFreeze.FileName())
	}
	if Category(9).String() != "unknown(9)" {
		t.Errorf("unexpected string %s", Category(9).String())
	}
}

func TestRecordLogName(t *testing.T) {
	ts := time.Date(2026, 1, 15, 10, 30, 5, 0, time.Local)
	r := Record{
		Category:  CategoryNativeCrash,
		Module:    "/system/bin/com.example.app",
		UserID:    20010041,
		Timestamp: ts.Unix(),
	}

	want := "cppcrash-com.example.app-20010041-20260115103005000.log"
	if got := r.LogName(); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
	if got := r.Handle(Location{}).LogName(); got != want {
		t.Errorf("handle name %s, want %s", got, want)
	}
}

func TestRecordHandle(t *testing.T) {
	r := Record{
		Seq:       7,
		Category:  CategoryAppFreeze,
		UserID:    100,
		Module:    "com.example",
		Timestamp: 1700000000,
	}
	loc := Location{Segment: 2, Offset: 12}

	h := r.Handle(loc)
	if h.Seq != 7 || h.Category != CategoryAppFreeze || h.Location != loc {
		t.Errorf("unexpected handle %+v", h)
	}
	if !h.Owned(100, "com.example") {
		t.Error("handle should be owned by its creator")
	}
	if h.Owned(100, "com.other") {
		t.Error("handle should not be owned by another module")
	}
}
