// Package archive writes and checks the distributable zip.
//
// Entries are stored under explicit internal paths that differ from their
// source paths. The archive is assembled in memory and swapped into place
// only on Commit, so an aborted run never leaves a truncated file behind.
package archive
