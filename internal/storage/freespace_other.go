//go:build !linux

package storage

import "errors"

func availableBytes(string) (int64, error) {
	return 0, errors.New("free space not supported on this platform")
}
