// Package lockfile reads and writes the devcontainer-lock.json file next
// to a configuration, including frozen-mode verification (spec §4.9, §6).
package lockfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrLockfileMismatch is returned in frozen mode when the computed
// lockfile content differs from what is on disk.
var ErrLockfileMismatch = errors.New("lockfile mismatch")

// ErrLockfileMissing is returned in frozen mode when no lockfile exists
// on disk at all.
var ErrLockfileMissing = errors.New("lockfile missing")

// Entry is one Feature's resolved install record (spec §6 schema).
type Entry struct {
	Version   string `json:"version"`
	Resolved  string `json:"resolved"`
	Integrity string `json:"integrity"`
}

// Lockfile is the top-level devcontainer-lock.json document.
type Lockfile struct {
	Features map[string]Entry `json:"features"`
}

// Marshal renders l as pretty-printed, 2-space-indented JSON with
// lexicographically sorted keys (spec §4.9, §6). encoding/json already
// sorts map[string]V keys on marshal, so no manual sort is needed for the
// bytes themselves, but callers that need the key order (e.g. diagnostics)
// can use SortedFeatureIDs.
func Marshal(l Lockfile) ([]byte, error) {
	if l.Features == nil {
		l.Features = map[string]Entry{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(l); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// SortedFeatureIDs returns l's feature ids in lexicographic order.
func SortedFeatureIDs(l Lockfile) []string {
	ids := make([]string, 0, len(l.Features))
	for id := range l.Features {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Read loads a lockfile from path. A missing file returns (Lockfile{},
// false, nil).
func Read(path string) (Lockfile, bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Lockfile{}, false, nil
	}
	if err != nil {
		return Lockfile{}, false, err
	}
	var l Lockfile
	if err := json.Unmarshal(raw, &l); err != nil {
		return Lockfile{}, false, fmt.Errorf("parsing lockfile %s: %w", path, err)
	}
	return l, true, nil
}

// Write persists computed at path, implementing frozen-mode verification
// and non-frozen idempotent writes (spec §4.9 "Lockfile").
//
// Frozen mode: any mismatch between computed and the existing lockfile
// fails with ErrLockfileMismatch; a missing lockfile fails with
// ErrLockfileMissing. Non-frozen mode: the file is written only if its
// bytes would differ from what is already on disk.
func Write(path string, computed Lockfile, frozen bool) error {
	computedBytes, err := Marshal(computed)
	if err != nil {
		return err
	}

	existing, found, err := Read(path)
	if err != nil {
		return err
	}

	if frozen {
		if !found {
			return fmt.Errorf("%w: %s", ErrLockfileMissing, path)
		}
		existingBytes, err := Marshal(existing)
		if err != nil {
			return err
		}
		if !bytes.Equal(existingBytes, computedBytes) {
			return fmt.Errorf("%w: %s", ErrLockfileMismatch, path)
		}
		return nil
	}

	if found {
		existingBytes, err := Marshal(existing)
		if err != nil {
			return err
		}
		if bytes.Equal(existingBytes, computedBytes) {
			return nil
		}
	}

	return atomicWrite(path, computedBytes)
}

// atomicWrite writes data to path via a temp file in the same directory
// followed by a rename, so a concurrent reader never observes a partial
// write (spec §5 "the lockfile is written atomically").
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".devcontainer-lock-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
