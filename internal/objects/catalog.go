// Package objects maps tracked rigid-body names to the annotation classes,
// sizes and colours used when exporting bounding boxes.
//
// The catalog is immutable once loaded. The default table is embedded; an
// alternate table can be loaded from JSON to annotate other object sets.
package objects

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

//go:embed objects.default.json
var defaultCatalogJSON []byte

// ErrUnmappedObject is returned by Lookup for names missing from the catalog.
var ErrUnmappedObject = errors.New("object not in catalog")

// Size is a full box size in metres.
type Size struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Class describes how one rigid body is annotated.
type Class struct {
	RigidBody    string `json:"rigid_body"`
	ClassName    string `json:"class_name"`
	InstanceName string `json:"instance_name"`
	ClassIndex   int    `json:"class_index"`
	Size         Size   `json:"size_m"`
	Colour       [3]int `json:"colour"`
}

// HalfExtents returns half the class size as a vector, in metres.
func (c Class) HalfExtents() r3.Vec {
	return r3.Scale(0.5, r3.Vec{X: c.Size.X, Y: c.Size.Y, Z: c.Size.Z})
}

type catalogFile struct {
	Objects []Class `json:"objects"`
}

// Catalog is an immutable rigid-body name → Class table.
type Catalog struct {
	classes map[string]Class
}

// NewCatalog builds a catalog from classes after validating them.
func NewCatalog(classes []Class) (*Catalog, error) {
	c := &Catalog{classes: make(map[string]Class, len(classes))}
	for i, cl := range classes {
		if err := cl.validate(); err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		if _, dup := c.classes[cl.RigidBody]; dup {
			return nil, fmt.Errorf("object %d: duplicate rigid_body %q", i, cl.RigidBody)
		}
		c.classes[cl.RigidBody] = cl
	}
	if len(c.classes) == 0 {
		return nil, errors.New("catalog has no objects")
	}
	return c, nil
}

// DefaultCatalog returns the embedded kitchen-task object table.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogJSON)
	if err != nil {
		panic("embedded object catalog is invalid: " + err.Error())
	}
	return c
}

// ParseCatalog parses catalog JSON.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return NewCatalog(f.Objects)
}

// LoadCatalog loads a catalog from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadCatalog(path string) (*Catalog, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("catalog file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat catalog file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("catalog file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// Lookup returns the class for a rigid-body name.
func (c *Catalog) Lookup(name string) (Class, error) {
	cl, ok := c.classes[name]
	if !ok {
		return Class{}, fmt.Errorf("%w: %q", ErrUnmappedObject, name)
	}
	return cl, nil
}

// Names returns the catalogued rigid-body names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.classes))
	for n := range c.classes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of catalogued objects.
func (c *Catalog) Len() int {
	return len(c.classes)
}

func (cl Class) validate() error {
	if cl.RigidBody == "" {
		return errors.New("rigid_body is required")
	}
	if cl.ClassName == "" {
		return fmt.Errorf("%s: class_name is required", cl.RigidBody)
	}
	if cl.ClassIndex < 0 {
		return fmt.Errorf("%s: class_index must be non-negative, got %d", cl.RigidBody, cl.ClassIndex)
	}
	if cl.Size.X <= 0 || cl.Size.Y <= 0 || cl.Size.Z <= 0 {
		return fmt.Errorf("%s: size_m must be positive on every axis, got %+v", cl.RigidBody, cl.Size)
	}
	for _, ch := range cl.Colour {
		if ch < 0 || ch > 255 {
			return fmt.Errorf("%s: colour channels must be within 0-255, got %v", cl.RigidBody, cl.Colour)
		}
	}
	return nil
}
