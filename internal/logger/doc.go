// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing for the project settings file,
//   - convenience functions (Info, InfoKV, ErrorKV, etc.).
//
// Every packaging stage receives a context and logs through the logger
// stored in it, so messages carry the stage name.
package logger
