// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestLegacyParsers(t *testing.T) {
	for raw, expected := range map[string]bool{"1": true, "0": false, " 2 ": true, "-1": true} {
		got, err := ParseLegacyBool(raw)
		if err != nil || got != expected {
			t.Errorf("ParseLegacyBool(%q) = %t, %v", raw, got, err)
		}
	}
	_, err := ParseLegacyBool("true")
	assertCode(t, err, ErrCodeDecodeFailed)

	f, err := ParseLegacyFloat(" 62.5")
	if err != nil || f != 62.5 {
		t.Errorf("ParseLegacyFloat = %v, %v", f, err)
	}
	_, err = ParseLegacyFloat("half")
	assertCode(t, err, ErrCodeDecodeFailed)

	list, err := ParseLegacyIntList("32, 97,100")
	if err != nil || !reflect.DeepEqual(list, []int{32, 97, 100}) {
		t.Errorf("ParseLegacyIntList = %v, %v", list, err)
	}
	_, err = ParseLegacyIntList("32,x")
	assertCode(t, err, ErrCodeDecodeFailed)
}

func testLegacyRules() []LegacyRule {
	return []LegacyRule{
		{
			Key:    "legacy.alpha.enabled",
			Target: alphaType,
			Apply:  LegacyField(ParseLegacyBool, func(s *alphaSettings, v bool) { s.IsEnabled = v }),
		},
		{
			Key:    "legacy.beta.ratio",
			Target: betaType,
			Apply:  LegacyField(ParseLegacyFloat, func(s *betaSettings, v float64) { s.Ratio = v }),
		},
		{
			Key:    "legacy.alpha.level",
			Target: alphaType,
			Apply: LegacyField(ParseLegacyFloat, func(s *alphaSettings, v float64) {
				s.Level = int(v)
			}),
		},
	}
}

func TestRuleImporter_RunsAtLoad(t *testing.T) {
	legacy := NewMemoryLegacyStore(map[string]string{
		"legacy.alpha.enabled": "1",
		"legacy.beta.ratio":    "not-a-number",
		"unrelated":            "kept",
	})

	recorder := &errorRecorder{}
	s, err := New(newTestCatalog(t), NewMemoryStore(), Config{
		ErrorHandler: recorder.handle,
		Legacy:       &RuleImporter{Store: legacy, Rules: testLegacyRules()},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	report := s.Load()
	if report.Legacy == nil {
		t.Fatal("Expected a legacy report")
	}
	if !reflect.DeepEqual(report.Legacy.Migrated, []string{"legacy.alpha.enabled"}) {
		t.Errorf("Unexpected migrated keys: %v", report.Legacy.Migrated)
	}
	if !reflect.DeepEqual(report.Legacy.Failed, []string{"legacy.beta.ratio"}) {
		t.Errorf("Unexpected failed keys: %v", report.Legacy.Failed)
	}

	alpha, _ := SettingsFor[*alphaSettings](s, alphaType)
	if !alpha.Enabled() {
		t.Error("Legacy flag was not applied")
	}
	beta, _ := SettingsFor[*betaSettings](s, betaType)
	if beta.Ratio != 0.5 {
		t.Errorf("A failed legacy value must leave the default, got %v", beta.Ratio)
	}

	reported, key := recorder.last()
	assertCode(t, reported, ErrCodeLegacyMigrationFailed)
	if key != "legacy.beta.ratio" {
		t.Errorf("Expected failure reported for legacy.beta.ratio, got %s", key)
	}

	// Every visited key is gone, the rest untouched
	if keys := legacy.Keys(); !reflect.DeepEqual(keys, []string{"unrelated"}) {
		t.Errorf("Expected only the unrelated key left, got %v", keys)
	}

	// A second load has nothing left to import and keeps nothing from memory
	report = s.Load()
	if len(report.Legacy.Migrated) != 0 || len(report.Legacy.Failed) != 0 {
		t.Errorf("Second import should be empty, got %+v", report.Legacy)
	}
}

func TestRuleImporter_NilSafe(t *testing.T) {
	var importer *RuleImporter
	s, _ := newTestSynchronizer(t, NewMemoryStore())
	if report := importer.Import(s); len(report.Migrated)+len(report.Failed) != 0 {
		t.Errorf("nil importer must import nothing, got %+v", report)
	}
	if report := (&RuleImporter{}).Import(s); len(report.Migrated) != 0 {
		t.Errorf("importer without store must import nothing, got %+v", report)
	}
}

func TestLegacyField_TypeMismatch(t *testing.T) {
	apply := LegacyField(ParseLegacyBool, func(s *alphaSettings, v bool) { s.IsEnabled = v })
	assertCode(t, apply("1", newBetaSettings()), ErrCodeSettingsTypeMismatch)
}

func TestPropertiesLegacyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.properties")
	content := strings.Join([]string{
		"# comment",
		"! also a comment",
		"legacy.alpha.enabled = 1",
		"",
		"legacy.beta.ratio=0.8",
		"not a property line",
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	store, err := OpenPropertiesLegacyStore(path)
	if err != nil {
		t.Fatalf("OpenPropertiesLegacyStore failed: %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("Expected 2 keys, got %d", store.Len())
	}
	if v, ok := store.Lookup("legacy.alpha.enabled"); !ok || v != "1" {
		t.Errorf("Lookup = %q, %t", v, ok)
	}

	if err := store.Delete("legacy.alpha.enabled"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete("never.there"); err != nil {
		t.Errorf("Deleting a missing key must succeed: %v", err)
	}

	data, _ := os.ReadFile(path)
	rewritten := string(data)
	if strings.Contains(rewritten, "legacy.alpha.enabled") {
		t.Errorf("Deleted key still on disk:\n%s", rewritten)
	}
	for _, kept := range []string{"# comment", "! also a comment", "legacy.beta.ratio=0.8", "not a property line"} {
		if !strings.Contains(rewritten, kept) {
			t.Errorf("Expected %q kept:\n%s", kept, rewritten)
		}
	}

	reopened, _ := OpenPropertiesLegacyStore(path)
	if reopened.Len() != 1 {
		t.Errorf("Expected 1 key after reopen, got %d", reopened.Len())
	}
}

func TestPropertiesLegacyStore_MissingFile(t *testing.T) {
	store, err := OpenPropertiesLegacyStore(filepath.Join(t.TempDir(), "absent.properties"))
	if err != nil {
		t.Fatalf("A missing legacy file is not an error: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Expected empty store, got %d keys", store.Len())
	}
}
