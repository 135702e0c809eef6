// Package annotate derives per-frame 3D bounding-box annotations from
// tracking frames and writes them as JSON documents, one per frame.
//
// Past positions are kept in a Tracker that the caller creates per take;
// nothing is shared between takes.
package annotate
