package crashdigest

import "errors"

var (
	ErrSnapshotParse      = errors.New("unable to parse crash dump")
	ErrImageParse         = errors.New("unable to parse executable")
	ErrMissingMainModule  = errors.New("crash dump has no main module")
	ErrMissingCodeSection = errors.New("executable has no code section")
	ErrWindowOutOfBounds  = errors.New("disassembly window outside executable")
	ErrChecksumMismatch   = errors.New("crash dump was not generated from provided executable")
)
