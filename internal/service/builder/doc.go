// Package builder triggers the release build of the native module.
//
// It runs the configured toolchain command as a blocking child process,
// forwards the child's console output, and turns a non-zero exit status
// into a *BuildError. The artifact itself is not inspected here.
package builder
