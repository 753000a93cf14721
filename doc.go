// Package wharf implements the wharf format for diffing and patching
// directory trees: framed, compressed streams of protobuf messages
// carrying container manifests, block signatures and binary patch
// operations.
//
// A signature fingerprints a tree block by block so a patch can be
// produced and verified without the original bytes. A patch rebuilds a
// new tree from an old one, reusing old blocks where the rsync scan found
// them and carrying literal data for the rest. ApplyPatch reconstructs
// files in parallel and stages every file before committing it, so a
// failed or cancelled apply never leaves a half-written file in place.
package wharf
