package annotate

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/mocap.report/internal/mocap"
	"github.com/banshee-data/mocap.report/internal/objects"
)

var (
	// ErrMissingPosition marks a rigid body reported without a position.
	ErrMissingPosition = errors.New("rigid body has no position")
	// ErrNonFinite marks a rigid body whose position or tracking error is
	// NaN or infinite. Such values have no JSON encoding.
	ErrNonFinite = errors.New("rigid body has a non-finite value")
)

// ObjectRecord is one object entry of an exported frame document. Field
// order matches the published annotation format.
type ObjectRecord struct {
	BoundingBox     BoundingBox `json:"bounding_box"`
	Certainty       float64     `json:"certainty"`
	ClassIndex      int         `json:"class_index"`
	ClassName       string      `json:"class_name"`
	Colour          [3]int      `json:"colour"`
	InstanceName    string      `json:"instance_name"`
	PastBoundingBox BoundingBox `json:"past_bounding_box"`
}

// BodyError reports a rigid body that could not be annotated. Err wraps
// ErrMissingPosition, ErrNonFinite or objects.ErrUnmappedObject.
type BodyError struct {
	Index int // position of the body within its frame
	Name  string
	ID    int32
	Err   error
}

func (e *BodyError) Error() string {
	return fmt.Sprintf("rigid body %q (id %d, index %d): %v", e.Name, e.ID, e.Index, e.Err)
}

func (e *BodyError) Unwrap() error { return e.Err }

// DeriveBody annotates a single rigid body and records its position in tr.
// On error tr is left untouched.
func DeriveBody(cat *objects.Catalog, tr *Tracker, rb mocap.RigidBody) (ObjectRecord, error) {
	class, err := cat.Lookup(rb.Name)
	if err != nil {
		return ObjectRecord{}, err
	}
	pos := rb.Pose.Position
	if pos == nil {
		return ObjectRecord{}, ErrMissingPosition
	}
	if !finite(pos.X) || !finite(pos.Y) || !finite(pos.Z) {
		return ObjectRecord{}, fmt.Errorf("%w: position %v", ErrNonFinite, *pos)
	}
	if !finite(rb.Error) {
		return ObjectRecord{}, fmt.Errorf("%w: error %v", ErrNonFinite, rb.Error)
	}

	half := class.HalfExtents()
	current := NewBoundingBox(*pos, half)
	past := current
	if prev, ok := tr.Previous(rb.ID); ok {
		past = NewBoundingBox(prev, half)
	}
	tr.Observe(rb.ID, *pos)

	return ObjectRecord{
		BoundingBox: current,
		// Tracking error is not guaranteed to lie in [0,1]; certainty is
		// passed through unclamped.
		Certainty:       1 - rb.Error,
		ClassIndex:      class.ClassIndex,
		ClassName:       class.ClassName,
		Colour:          class.Colour,
		InstanceName:    class.InstanceName,
		PastBoundingBox: past,
	}, nil
}

// DeriveFrame annotates every rigid body in frame, in order. Bodies that
// fail are reported in errs and omitted from records; the caller decides
// whether that aborts the take.
func DeriveFrame(cat *objects.Catalog, tr *Tracker, frame *mocap.Frame) (records []ObjectRecord, errs []*BodyError) {
	records = make([]ObjectRecord, 0, len(frame.RigidBodies))
	for i, rb := range frame.RigidBodies {
		rec, err := DeriveBody(cat, tr, rb)
		if err != nil {
			errs = append(errs, &BodyError{Index: i, Name: rb.Name, ID: rb.ID, Err: err})
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
