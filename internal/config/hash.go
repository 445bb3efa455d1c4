package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumsFile is the manifest name written next to locked config files.
const ChecksumsFile = ".checksums"

// ChecksumManifest records the BLAKE3 hash of each locked file in a directory.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// LockedFile is one entry written by Lock.
type LockedFile struct {
	Path string
	Hash string
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}
	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}
	return nil
}

// Lock hashes the config at configPath and every file it includes, writing one
// .checksums manifest per directory. Subsequent Loads refuse modified files.
func Lock(configPath string) ([]LockedFile, error) {
	files, err := ConfigFiles(configPath)
	if err != nil {
		return nil, err
	}

	manifests := make(map[string]*ChecksumManifest)
	locked := make([]LockedFile, 0, len(files))
	generatedAt := time.Now().UTC().Format(time.RFC3339)
	for _, path := range files {
		hash, err := ComputeBlake3Hash(path)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", path, err)
		}
		dir := filepath.Dir(path)
		m, ok := manifests[dir]
		if !ok {
			m = &ChecksumManifest{Version: 1, GeneratedAt: generatedAt, Hashes: make(map[string]string)}
			manifests[dir] = m
		}
		m.Hashes[filepath.Base(path)] = hash
		locked = append(locked, LockedFile{Path: path, Hash: hash})
	}

	for dir, m := range manifests {
		data, err := yaml.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal checksums: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, ChecksumsFile), data, 0600); err != nil {
			return nil, fmt.Errorf("failed to write checksums: %w", err)
		}
	}
	return locked, nil
}

// Locked reports whether a .checksums manifest sits next to path.
func Locked(path string) bool {
	_, err := os.Stat(filepath.Join(filepath.Dir(path), ChecksumsFile))
	return err == nil
}

// LoadChecksums reads the .checksums file from a config directory.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, ChecksumsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checksums file not found (run 'relay config lock')")
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

// verifyAllConfigHashes checks each file against the manifest in its directory.
// Directories without a manifest are unlocked and skipped.
func verifyAllConfigHashes(paths []string) error {
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		if _, err := os.Stat(filepath.Join(dir, ChecksumsFile)); os.IsNotExist(err) {
			continue
		}
		checksums, err := LoadChecksums(dir)
		if err != nil {
			return err
		}
		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: relay config lock --config %s", basename, dir, path)
			}
			if err := VerifyFileHash(path, expectedHash); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"If you edited this file intentionally, run: relay config lock", path, err)
			}
		}
	}
	return nil
}
