//go:build !unix

package lock

import (
	"errors"
	"os"
	"runtime"
)

var errUnsupported = errors.New("file locking is not supported on " + runtime.GOOS)

func lockFile(*os.File) error { return errUnsupported }

func tryLockFile(*os.File) (bool, error) { return false, errUnsupported }

func unlockFile(*os.File) error { return errUnsupported }
