package domain

import "errors"

// ErrNoCredentials is a sentinel error returned when a credential pool is
// empty after both the file-based source and the environment fallback have
// been tried. Fatal at first use.
var ErrNoCredentials = errors.New("no credentials available")
