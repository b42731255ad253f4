//go:build !linux

package snapshot

import "os"

func adviseSequential(*os.File) {}

func adviseDone(*os.File) {}
