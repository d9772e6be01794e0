package client

import (
	"os"
)

// writeTempFile/readTempFile/tempFilePath/removeTempFile back the docker
// backend's upload/download, which can only move bytes across the
// container boundary via `docker cp` against a real path on this host.

func writeTempFile(data []byte) (string, error) {
	f, err := os.CreateTemp("", "codeboxd-client-*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func tempFilePath() (string, error) {
	f, err := os.CreateTemp("", "codeboxd-client-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return name, nil
}

func readTempFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func removeTempFile(path string) {
	_ = os.Remove(path)
}
