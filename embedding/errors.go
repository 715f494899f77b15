package embedding

import "errors"

var (
	// ErrSessionClosed is returned by any operation attempted after Dispose,
	// and fulfills Futures that were still pending at disposal.
	ErrSessionClosed = errors.New("session closed")

	// ErrInstanceExists is returned by New when a live embedded session
	// already exists in this process and AllowMultiple is not set.
	ErrInstanceExists = errors.New("cannot have more than one embedded session per process")

	// ErrNoProjectPath is returned by Save when the project has never been
	// saved to a path.
	ErrNoProjectPath = errors.New("project has no path, use SaveAs first")

	// ErrNoScripting is returned by RunScript when the host provider has no
	// scripting engine.
	ErrNoScripting = errors.New("host provider has no scripting engine")
)
