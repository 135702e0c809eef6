// Package mocap defines the motion-capture data model shared by the
// downsampler and the frame exporter: timestamped records, tracking frames
// and the rigid bodies reported in them.
//
// Frames travel as record payloads encoded in protobuf wire format. The
// codec is hand-written on top of protowire so the container stays readable
// without generated code.
package mocap
