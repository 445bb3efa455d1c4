//go:build !linux

package storage

func statfsType(string) (string, error) {
	return "", errFSUnknown
}
