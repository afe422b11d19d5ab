//go:build !(darwin || dragonfly || freebsd || linux || netbsd || openbsd || windows)

package registry

import "os"

const fileLockSupported = false

func tryLockFile(*os.File) (bool, error) { return false, ErrLockUnsupported }

func unlockFile(*os.File) error { return nil }
