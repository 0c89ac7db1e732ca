package cartridge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Component names inside an archive.
const (
	ManifestName    = "manifest.json"
	CoreName        = "core.json"
	PreferencesName = "preferences.json"
	StoreName       = "memory.db"
	AssetsDir       = "assets"
)

// ManifestVersion is the archive format version this build reads and
// writes.
const ManifestVersion = 1

// Manifest describes an archive's contents. Every listed component is
// checksummed; an archive without a valid manifest is rejected.
type Manifest struct {
	Version     int               `json:"version"`
	Checksums   map[string]string `json:"checksums"`
	MemoryCount int               `json:"memory_count"`
	Created     time.Time         `json:"created"`
	Modified    time.Time         `json:"modified"`
}

const manifestSchema = `{
	"type": "object",
	"required": ["version", "checksums", "memory_count", "created", "modified"],
	"properties": {
		"version": {"type": "integer", "minimum": 1},
		"checksums": {
			"type": "object",
			"minProperties": 1,
			"additionalProperties": {"type": "string", "pattern": "^[0-9a-f]{64}$"}
		},
		"memory_count": {"type": "integer", "minimum": 0},
		"created": {"type": "string"},
		"modified": {"type": "string"}
	}
}`

// Checksum is the hex sha256 of a component's bytes.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ReadManifest loads and validates manifest.json from an archive. It
// checks the JSON schema and the format version but not the component
// checksums; VerifyChecksums does that.
func ReadManifest(src Source) (*Manifest, error) {
	if !src.Has(ManifestName) {
		return nil, &CorruptArchiveError{Component: ManifestName, Msg: "missing"}
	}
	raw, err := readAll(src, ManifestName)
	if err != nil {
		return nil, &CorruptArchiveError{Component: ManifestName, Msg: err.Error()}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(manifestSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return nil, &CorruptArchiveError{Component: ManifestName, Msg: fmt.Sprintf("not valid JSON: %v", err)}
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, &CorruptArchiveError{Component: ManifestName, Msg: strings.Join(problems, "; ")}
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &CorruptArchiveError{Component: ManifestName, Msg: err.Error()}
	}
	if m.Version != ManifestVersion {
		return nil, &CorruptArchiveError{
			Component: ManifestName,
			Msg:       fmt.Sprintf("format version %d, this build reads %d", m.Version, ManifestVersion),
		}
	}
	if _, ok := m.Checksums[StoreName]; !ok {
		return nil, &CorruptArchiveError{Component: StoreName, Msg: "not listed in manifest"}
	}
	return &m, nil
}

// VerifyChecksums reads every component the manifest lists and compares
// its checksum. Runs to completion before any import writes anything.
func VerifyChecksums(src Source, m *Manifest) error {
	for name, want := range m.Checksums {
		if !src.Has(name) {
			return &CorruptArchiveError{Component: name, Msg: "listed in manifest but missing"}
		}
		data, err := readAll(src, name)
		if err != nil {
			return &CorruptArchiveError{Component: name, Msg: err.Error()}
		}
		if got := Checksum(data); got != want {
			return &CorruptArchiveError{Component: name, Msg: "checksum mismatch"}
		}
	}
	return nil
}
