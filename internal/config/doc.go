// Package config defines the packaging constants: the build command, the
// input and output paths, and the internal archive prefix.
//
// The values are compiled in. A project may override them with an optional
// YAML settings file next to the sources.
package config
