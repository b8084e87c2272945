// Package artifact persists and loads the three files a trained model is made
// of: the forest, the ordinal encoder and the ordered feature list.
package artifact

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diamond-cli/internal/config"
	"github.com/sells-group/diamond-cli/internal/encoder"
	"github.com/sells-group/diamond-cli/internal/forest"
	"github.com/sells-group/diamond-cli/internal/model"
)

// Paths locates the artifact files.
type Paths struct {
	Model    string
	Encoder  string
	Features string
}

// PathsFromConfig joins the configured file names onto the artifact dir.
func PathsFromConfig(cfg config.ArtifactsConfig) Paths {
	return Paths{
		Model:    filepath.Join(cfg.Dir, cfg.ModelFile),
		Encoder:  filepath.Join(cfg.Dir, cfg.EncoderFile),
		Features: filepath.Join(cfg.Dir, cfg.FeaturesFile),
	}
}

// InDir returns the default file names inside dir.
func InDir(dir string) Paths {
	return PathsFromConfig(config.ArtifactsConfig{
		Dir:          dir,
		ModelFile:    "model.json.zst",
		EncoderFile:  "encoder.json",
		FeaturesFile: "features.json",
	})
}

// Bundle is a set of loaded artifacts. Any field is nil when that artifact
// failed to load or validate.
type Bundle struct {
	Model    *forest.Forest
	Encoder  *encoder.OrdinalEncoder
	Features []string
}

// Status reports which artifacts are usable.
type Status struct {
	ModelLoaded    bool `json:"model_loaded"`
	EncoderLoaded  bool `json:"encoder_loaded"`
	FeaturesLoaded bool `json:"features_loaded"`
}

// Ready reports whether all three artifacts are usable.
func (s Status) Ready() bool {
	return s.ModelLoaded && s.EncoderLoaded && s.FeaturesLoaded
}

// Status derives the load status from which fields are set.
func (b Bundle) Status() Status {
	return Status{
		ModelLoaded:    b.Model != nil,
		EncoderLoaded:  b.Encoder != nil,
		FeaturesLoaded: b.Features != nil,
	}
}

// Save writes all three artifacts.
func Save(p Paths, b Bundle) error {
	if b.Model == nil || b.Encoder == nil || len(b.Features) == 0 {
		return eris.New("artifact: incomplete bundle")
	}
	if err := SaveModel(p.Model, b.Model); err != nil {
		return err
	}
	if err := SaveEncoder(p.Encoder, b.Encoder); err != nil {
		return err
	}
	return SaveFeatures(p.Features, b.Features)
}

// Load reads each artifact independently. A file that is missing, unreadable
// or inconsistent is logged and left nil in the bundle; the others still load.
func Load(p Paths) Bundle {
	log := zap.L().With(zap.String("component", "artifact"))
	var b Bundle

	features, err := LoadFeatures(p.Features)
	if err == nil {
		err = CheckFeatures(features)
	}
	if err != nil {
		log.Error("feature list not loaded", zap.String("path", p.Features), zap.Error(err))
	} else {
		b.Features = features
	}

	enc, err := LoadEncoder(p.Encoder)
	if err == nil {
		err = enc.CheckCanonical()
	}
	if err != nil {
		log.Error("encoder not loaded", zap.String("path", p.Encoder), zap.Error(err))
	} else {
		b.Encoder = enc
	}

	m, err := LoadModel(p.Model)
	if err == nil {
		want := len(model.FeatureNames())
		if b.Features != nil {
			want = len(b.Features)
		}
		if m.NFeatures != want {
			err = eris.Errorf("artifact: model expects %d features, feature list has %d", m.NFeatures, want)
		}
	}
	if err != nil {
		log.Error("model not loaded", zap.String("path", p.Model), zap.Error(err))
	} else {
		b.Model = m
	}

	st := b.Status()
	log.Info("artifacts loaded",
		zap.Bool("model", st.ModelLoaded),
		zap.Bool("encoder", st.EncoderLoaded),
		zap.Bool("features", st.FeaturesLoaded),
	)
	return b
}

// CheckFeatures verifies features is a permutation of the canonical feature
// set with no missing, extra or duplicate names.
func CheckFeatures(features []string) error {
	canonical := model.FeatureNames()
	seen := make(map[string]bool, len(features))
	var extra, dup []string
	for _, f := range features {
		switch {
		case seen[f]:
			dup = append(dup, f)
		case !slices.Contains(canonical, f):
			extra = append(extra, f)
		}
		seen[f] = true
	}
	var missing []string
	for _, c := range canonical {
		if !seen[c] {
			missing = append(missing, c)
		}
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "missing "+strings.Join(missing, ", "))
	}
	if len(extra) > 0 {
		problems = append(problems, "unexpected "+strings.Join(extra, ", "))
	}
	if len(dup) > 0 {
		problems = append(problems, "duplicate "+strings.Join(dup, ", "))
	}
	if len(problems) > 0 {
		return eris.Errorf("artifact: invalid feature list: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SaveModel writes the forest as zstd-compressed JSON.
func SaveModel(path string, f *forest.Forest) error {
	return writeAtomic(path, func(file *os.File) error {
		zw, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return eris.Wrap(err, "artifact: zstd writer")
		}
		if err := json.NewEncoder(zw).Encode(f); err != nil {
			_ = zw.Close()
			return eris.Wrap(err, "artifact: encode model")
		}
		return eris.Wrap(zw.Close(), "artifact: flush model")
	})
}

// LoadModel reads and validates a forest written by SaveModel.
func LoadModel(path string) (*forest.Forest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "artifact: open model")
	}
	defer file.Close() //nolint:errcheck

	zr, err := zstd.NewReader(file)
	if err != nil {
		return nil, eris.Wrap(err, "artifact: zstd reader")
	}
	defer zr.Close()

	var f forest.Forest
	if err := json.NewDecoder(zr).Decode(&f); err != nil {
		return nil, eris.Wrap(err, "artifact: decode model")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// SaveEncoder writes the encoder as JSON.
func SaveEncoder(path string, e *encoder.OrdinalEncoder) error {
	return writeJSON(path, e)
}

// LoadEncoder reads an encoder written by SaveEncoder.
func LoadEncoder(path string) (*encoder.OrdinalEncoder, error) {
	var e encoder.OrdinalEncoder
	if err := readJSON(path, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// SaveFeatures writes the ordered feature list as a JSON array.
func SaveFeatures(path string, features []string) error {
	return writeJSON(path, features)
}

// LoadFeatures reads a feature list written by SaveFeatures.
func LoadFeatures(path string) ([]string, error) {
	var features []string
	if err := readJSON(path, &features); err != nil {
		return nil, err
	}
	return features, nil
}

func writeJSON(path string, v any) error {
	return writeAtomic(path, func(file *os.File) error {
		enc := json.NewEncoder(file)
		enc.SetIndent("", "  ")
		return eris.Wrapf(enc.Encode(v), "artifact: encode %s", filepath.Base(path))
	})
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "artifact: read %s", filepath.Base(path))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "artifact: decode %s", filepath.Base(path))
	}
	return nil
}

// writeAtomic writes to a temp file in the target directory and renames it
// into place, so readers never see a partial artifact.
func writeAtomic(path string, write func(*os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "artifact: create dir")
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return eris.Wrap(err, "artifact: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "artifact: close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrap(err, "artifact: rename")
	}
	return nil
}
