// Package modconfig reads the INI settings file shipped with the native mod.
//
// The packager uses it as a preflight check so that an archive never ships a
// settings file the mod would refuse at load time.
package modconfig
