package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFixture(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.txt")
	testContent := []byte("test fixture content")

	if err := os.WriteFile(testFile, testContent, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	result := LoadFixture(t, testFile)
	if string(result) != string(testContent) {
		t.Errorf("expected %q, got %q", testContent, result)
	}
}

func TestLoadFixtureJSON(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.json")
	testData := map[string]any{
		"name":  "test",
		"value": 42,
	}

	jsonData, err := json.Marshal(testData)
	if err != nil {
		t.Fatalf("failed to marshal test data: %v", err)
	}
	if err := os.WriteFile(testFile, jsonData, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	var result map[string]any
	LoadFixtureJSON(t, testFile, &result)

	if result["name"] != "test" {
		t.Errorf("expected name %q, got %v", "test", result["name"])
	}
	if result["value"] != float64(42) {
		t.Errorf("expected value 42, got %v", result["value"])
	}
}

func TestLoadRow(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "row.json")
	content := []byte(`{"id": "a1", "balance": 100, "owner_id": "u1"}`)

	if err := os.WriteFile(testFile, content, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	row := LoadRow(t, testFile)
	if row["id"] != "a1" {
		t.Errorf("expected id a1, got %v", row["id"])
	}
	if row["balance"] != float64(100) {
		t.Errorf("expected balance 100, got %v", row["balance"])
	}
}

func TestLoadRows(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "tables.json")
	content := []byte(`{
		"accounts": [{"id": "a1"}, {"id": "a2"}],
		"users": [{"id": "u1", "name": "alice"}]
	}`)

	if err := os.WriteFile(testFile, content, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	tables := LoadRows(t, testFile)
	if len(tables["accounts"]) != 2 {
		t.Errorf("expected 2 account rows, got %d", len(tables["accounts"]))
	}
	if len(tables["users"]) != 1 {
		t.Errorf("expected 1 user row, got %d", len(tables["users"]))
	}
	if tables["users"][0]["name"] != "alice" {
		t.Errorf("unexpected user row: %v", tables["users"][0])
	}
}

func TestCompareWithGolden(t *testing.T) {
	tmpDir := t.TempDir()
	goldenFile := filepath.Join(tmpDir, "golden", "output.txt")
	data := []byte("expected output")

	// First call creates the golden file.
	CompareWithGolden(t, goldenFile, data)

	written, err := os.ReadFile(goldenFile)
	if err != nil {
		t.Fatalf("golden file not created: %v", err)
	}
	if string(written) != string(data) {
		t.Errorf("golden file content mismatch: %q", written)
	}

	// Second call compares against it without failing.
	CompareWithGolden(t, goldenFile, data)
}

func TestFixtureAndGoldenPaths(t *testing.T) {
	if got := FixturePath("rows.json"); got != filepath.Join("testdata", "rows.json") {
		t.Errorf("FixturePath() = %q", got)
	}
	if got := GoldenPath("out.json"); got != filepath.Join("testdata", "golden", "out.json") {
		t.Errorf("GoldenPath() = %q", got)
	}
}
