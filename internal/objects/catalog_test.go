package objects

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	if c.Len() != 5 {
		t.Errorf("Len = %d, want 5", c.Len())
	}
	want := []string{"Bottle", "Bowl", "HandLeft", "HandRight", "Whisk"}
	if got := c.Names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names = %v, want %v", got, want)
	}

	whisk, err := c.Lookup("Whisk")
	if err != nil {
		t.Fatalf("Lookup(Whisk): %v", err)
	}
	if whisk.ClassName != "whisk" || whisk.InstanceName != "whisk_2" || whisk.ClassIndex != 5 {
		t.Errorf("whisk = %+v", whisk)
	}
	if whisk.Colour != [3]int{255, 143, 0} {
		t.Errorf("whisk colour = %v", whisk.Colour)
	}
	if got, want := whisk.HalfExtents(), (r3.Vec{X: 0.025, Y: 0.1, Z: 0.025}); got != want {
		t.Errorf("HalfExtents = %v, want %v", got, want)
	}

	left, err := c.Lookup("HandLeft")
	if err != nil {
		t.Fatalf("Lookup(HandLeft): %v", err)
	}
	right, err := c.Lookup("HandRight")
	if err != nil {
		t.Fatalf("Lookup(HandRight): %v", err)
	}
	if left.ClassIndex != right.ClassIndex {
		t.Errorf("hands have class indexes %d and %d, want shared", left.ClassIndex, right.ClassIndex)
	}
	if left.InstanceName == right.InstanceName {
		t.Errorf("hands share instance name %q", left.InstanceName)
	}
}

func TestLookupUnmapped(t *testing.T) {
	_, err := DefaultCatalog().Lookup("Spatula")

	if !errors.Is(err, ErrUnmappedObject) {
		t.Fatalf("err = %v, want ErrUnmappedObject", err)
	}
	if !strings.Contains(err.Error(), `"Spatula"`) {
		t.Errorf("error %q does not name the body", err)
	}
}

func TestNewCatalogValidation(t *testing.T) {
	valid := Class{
		RigidBody: "Cup",
		ClassName: "cup",
		Size:      Size{X: 0.08, Y: 0.1, Z: 0.08},
		Colour:    [3]int{10, 20, 30},
	}

	tests := []struct {
		name    string
		mutate  func(c *Class)
		wantErr string
	}{
		{"valid", func(c *Class) {}, ""},
		{"missing rigid body", func(c *Class) { c.RigidBody = "" }, "rigid_body is required"},
		{"missing class name", func(c *Class) { c.ClassName = "" }, "class_name is required"},
		{"negative index", func(c *Class) { c.ClassIndex = -1 }, "class_index"},
		{"zero size", func(c *Class) { c.Size.Y = 0 }, "size_m"},
		{"colour out of range", func(c *Class) { c.Colour[2] = 256 }, "colour"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl := valid
			tt.mutate(&cl)
			_, err := NewCatalog([]Class{cl})
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewCatalogRejectsDuplicatesAndEmpty(t *testing.T) {
	cl := Class{RigidBody: "Cup", ClassName: "cup", Size: Size{X: 1, Y: 1, Z: 1}}

	_, err := NewCatalog([]Class{cl, cl})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("err = %v, want duplicate error", err)
	}

	if _, err := NewCatalog(nil); err == nil {
		t.Error("expected error for empty catalog")
	}
}

func TestLoadCatalog(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "cups.json")
	testJSON := `{
  "objects": [
    {"rigid_body": "Cup", "class_name": "cup", "instance_name": "cup_1", "class_index": 9,
     "size_m": {"x": 0.08, "y": 0.1, "z": 0.08}, "colour": [1, 2, 3]}
  ]
}`
	if err := os.WriteFile(path, []byte(testJSON), 0644); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}

	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}

	cup, err := c.Lookup("Cup")
	if err != nil {
		t.Fatalf("Lookup(Cup): %v", err)
	}
	if cup.ClassIndex != 9 {
		t.Errorf("ClassIndex = %d, want 9", cup.ClassIndex)
	}

	// An alternate catalog replaces the default.
	if _, err := c.Lookup("Whisk"); !errors.Is(err, ErrUnmappedObject) {
		t.Errorf("Lookup(Whisk) err = %v, want ErrUnmappedObject", err)
	}
}

func TestLoadCatalogErrors(t *testing.T) {
	tmpDir := t.TempDir()

	yamlPath := filepath.Join(tmpDir, "objects.yaml")
	if err := os.WriteFile(yamlPath, []byte("objects: []"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := LoadCatalog(yamlPath); err == nil || !strings.Contains(err.Error(), ".json extension") {
		t.Errorf("err = %v, want .json extension error", err)
	}

	if _, err := LoadCatalog(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("expected error for missing catalog")
	}

	badPath := filepath.Join(tmpDir, "bad.json")
	if err := os.WriteFile(badPath, []byte(`{"objects": [`), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := LoadCatalog(badPath); err == nil || !strings.Contains(err.Error(), "failed to parse catalog JSON") {
		t.Errorf("err = %v, want parse error", err)
	}
}
