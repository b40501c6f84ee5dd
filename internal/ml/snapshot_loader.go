package ml

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gonum.org/v1/gonum/mat"
)

const (
	ManifestFile        = "manifest.json"
	DefaultUserFactors  = "user_factors.f32"
	DefaultItemFactors  = "item_factors.f32"
	bytesPerFactorValue = 4
)

// ErrInvalidSnapshot marks artifacts that are present but unusable.
var ErrInvalidSnapshot = errors.New("invalid model snapshot")

// SnapshotManifest describes a snapshot directory. Factor files hold
// row-major little-endian float32 matrices, one row per listed id.
type SnapshotManifest struct {
	Version     string    `json:"version"`
	Factors     int       `json:"factors"`
	UserIDs     []int64   `json:"user_ids"`
	ItemIDs     []int64   `json:"item_ids"`
	TrainedOn   time.Time `json:"trained_on,omitempty"`
	UserFactors string    `json:"user_factors,omitempty"`
	ItemFactors string    `json:"item_factors,omitempty"`
}

const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "factors", "user_ids", "item_ids"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "factors": {"type": "integer", "minimum": 1, "maximum": 4096},
    "user_ids": {"type": "array", "minItems": 1, "items": {"type": "integer"}},
    "item_ids": {"type": "array", "minItems": 1, "items": {"type": "integer"}},
    "trained_on": {"type": "string", "format": "date-time"},
    "user_factors": {"type": "string", "pattern": "^[A-Za-z0-9._-]+$"},
    "item_factors": {"type": "string", "pattern": "^[A-Za-z0-9._-]+$"}
  }
}`

var manifestSchemaLoader = gojsonschema.NewStringLoader(manifestSchema)

// LoadSnapshot reads and validates a snapshot directory.
func LoadSnapshot(dir string) (*ModelSnapshot, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	manifest, err := ParseManifest(raw)
	if err != nil {
		return nil, err
	}

	userFactors, err := readFactors(filepath.Join(dir, manifest.UserFactors), len(manifest.UserIDs), manifest.Factors)
	if err != nil {
		return nil, fmt.Errorf("user factors: %w", err)
	}
	itemFactors, err := readFactors(filepath.Join(dir, manifest.ItemFactors), len(manifest.ItemIDs), manifest.Factors)
	if err != nil {
		return nil, fmt.Errorf("item factors: %w", err)
	}

	snapshot, err := NewModelSnapshot(manifest.Version, manifest.UserIDs, manifest.ItemIDs, userFactors, itemFactors)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	snapshot.trainedOn = manifest.TrainedOn

	return snapshot, nil
}

// ParseManifest validates raw manifest JSON against the manifest schema.
func ParseManifest(raw []byte) (*SnapshotManifest, error) {
	result, err := gojsonschema.Validate(manifestSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: manifest is not valid JSON: %v", ErrInvalidSnapshot, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidSnapshot, strings.Join(problems, "; "))
	}

	var manifest SnapshotManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if manifest.UserFactors == "" {
		manifest.UserFactors = DefaultUserFactors
	}
	if manifest.ItemFactors == "" {
		manifest.ItemFactors = DefaultItemFactors
	}

	return &manifest, nil
}

func readFactors(path string, rows, cols int) (*mat.Dense, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	want := rows * cols * bytesPerFactorValue
	if len(raw) != want {
		return nil, fmt.Errorf("%w: %s has %d bytes, want %d for %dx%d",
			ErrInvalidSnapshot, filepath.Base(path), len(raw), want, rows, cols)
	}

	values := make([]float32, rows*cols)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, values); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}

	data := make([]float64, len(values))
	for i, v := range values {
		data[i] = float64(v)
	}
	return mat.NewDense(rows, cols, data), nil
}

// WriteSnapshot writes manifest and factor files to dir in the layout
// LoadSnapshot reads.
func WriteSnapshot(dir string, manifest SnapshotManifest, userFactors, itemFactors *mat.Dense) error {
	if manifest.UserFactors == "" {
		manifest.UserFactors = DefaultUserFactors
	}
	if manifest.ItemFactors == "" {
		manifest.ItemFactors = DefaultItemFactors
	}
	_, manifest.Factors = userFactors.Dims()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), raw, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := writeFactors(filepath.Join(dir, manifest.UserFactors), userFactors); err != nil {
		return err
	}
	return writeFactors(filepath.Join(dir, manifest.ItemFactors), itemFactors)
}

func writeFactors(path string, m *mat.Dense) error {
	rows, cols := m.Dims()
	values := make([]float32, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for _, v := range m.RawRowView(i) {
			values = append(values, float32(v))
		}
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, values); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
