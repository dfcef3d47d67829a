//go:build !unix

package cli

import "os"

var statusSignals []os.Signal
