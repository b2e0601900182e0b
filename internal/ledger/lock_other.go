//go:build !unix && !windows

package ledger

import "os"

// Only the in-process mutex applies on platforms without advisory locks
func lockFile(f *os.File) error { return nil }

func unlockFile(f *os.File) error { return nil }
