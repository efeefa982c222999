// Package packager builds the native mod and packages it for distribution.
//
// A run is strictly sequential: claim the run marker, invoke the release
// build, check both inputs, write the archive with the artifact and the mod
// settings under bin/NativeMods, verify it, and print the completion message.
// A failed build or a missing input stops the run before the archive is touched.
package packager
