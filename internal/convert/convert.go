package convert

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/born-ml/ct2spec/internal/format"
	"github.com/born-ml/ct2spec/internal/layers"
	"github.com/born-ml/ct2spec/internal/loader"
	"github.com/born-ml/ct2spec/internal/parallel"
	"github.com/born-ml/ct2spec/internal/quantize"
	"github.com/born-ml/ct2spec/internal/spec"
)

// Options configures a conversion.
type Options struct {
	ModelDir  string // Checkpoint directory (safetensors + config.json)
	OutputDir string // Created if missing

	// Profile overrides the profile derived from ModelDir/config.json.
	Profile *Profile

	// Quantization overrides the profile's mode when not empty.
	Quantization quantize.Mode

	Parallel parallel.Config
	Force    bool // Overwrite an existing model.bin
	Progress bool // Show a progress bar on stderr
}

// Result summarizes a conversion.
type Result struct {
	ModelPath  string
	Digest     string // SHA-256 of model.bin, hex
	Variables  int
	Skipped    []string // Checkpoint tensors with no spec attribute
	Quantize   quantize.Stats
	VocabSize  int // 0 when no vocabulary was written
	ConfigPath string
}

// Run converts opts.ModelDir into opts.OutputDir.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.ModelDir == "" || opts.OutputDir == "" {
		return nil, errors.New("convert: model and output directories are required")
	}
	if opts.Parallel.NumWorkers == 0 && !opts.Parallel.Enabled {
		opts.Parallel = parallel.DefaultConfig()
	}

	profile, err := resolveProfile(opts, filepath.Join(opts.ModelDir, HFConfigFileName))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve conversion profile for %q", opts.ModelDir)
	}

	modelPath := filepath.Join(opts.OutputDir, format.FileName)
	if _, err := os.Stat(modelPath); err == nil && !opts.Force {
		return nil, errors.Errorf("%s already exists (use force to overwrite)", modelPath)
	}

	ckpt, err := loader.OpenCheckpoint(opts.ModelDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint %q", opts.ModelDir)
	}
	defer func() { _ = ckpt.Close() }()

	arch := profile.Architecture
	if arch == "" {
		arch = loader.DetectArchitecture(ckpt.TensorNames())
	}
	mapper, err := loader.GetMapper(arch)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	klog.Infof("Converting %s checkpoint %q (%d tensors, %d shards): %d layers, %d heads, %s",
		arch, opts.ModelDir, len(ckpt.TensorNames()), ckpt.NumShards(),
		profile.Decoder.NumLayers, profile.Decoder.NumHeads, profile.Quantization)

	model, err := layers.NewDecoderModelSpec(profile.Decoder)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build decoder specification")
	}

	plan, err := newFillPlan(ckpt, mapper, profile.Decoder.NumLayers)
	if err != nil {
		return nil, err
	}
	res := &Result{ModelPath: modelPath, Skipped: plan.skipped}
	for _, name := range plan.skipped {
		klog.V(1).Infof("Skipping %q: no attribute", name)
	}

	if err := plan.fill(ctx, model, ckpt, opts); err != nil {
		return nil, err
	}
	if err := fillDerived(model, profile); err != nil {
		return nil, err
	}

	if res.Quantize, err = quantize.Apply(model, profile.Quantization, opts.Parallel); err != nil {
		return nil, errors.Wrapf(err, "failed to apply %s quantization", profile.Quantization)
	}
	klog.V(1).Infof("Quantization: %d converted, %d quantized, %d -> %d bytes",
		res.Quantize.Converted, res.Quantize.Quantized, res.Quantize.BytesBefore, res.Quantize.BytesAfter)

	if err := spec.Validate(model); err != nil {
		return nil, errors.Wrap(err, "converted model is incomplete")
	}

	if err := os.MkdirAll(opts.OutputDir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "failed to create output directory %q", opts.OutputDir)
	}
	if err := format.Save(modelPath, model); err != nil {
		return nil, errors.Wrapf(err, "failed to write %q", modelPath)
	}
	if res.Digest, err = format.DigestFile(modelPath); err != nil {
		return nil, errors.WithStack(err)
	}
	vars, err := spec.Flatten(model, "")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	res.Variables = len(vars)

	tokens, err := writeVocabulary(opts.ModelDir, opts.OutputDir, profile, res)
	if err != nil {
		return nil, err
	}
	if res.ConfigPath, err = writeRuntimeConfig(opts.OutputDir, profile, tokens); err != nil {
		return nil, err
	}

	klog.Infof("Wrote %s (%d variables, sha256 %s)", modelPath, res.Variables, res.Digest)
	return res, nil
}

// assignment collects the checkpoint tensors written to one attribute, ordered by part.
type assignment struct {
	path    string
	sources []string
}

// fillPlan groups assignments by the layer that owns them. Index -1 holds the
// attributes outside any layer.
type fillPlan struct {
	global  []*assignment
	layers  [][]*assignment
	skipped []string
}

func newFillPlan(src loader.Source, mapper loader.WeightMapper, numLayers int) (*fillPlan, error) {
	byPath := make(map[string]*assignment)
	plan := &fillPlan{layers: make([][]*assignment, numLayers)}

	for _, name := range src.TensorNames() {
		target, ok, err := mapper.Map(name)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if !ok {
			plan.skipped = append(plan.skipped, name)
			continue
		}
		a, seen := byPath[target.Path]
		if !seen {
			parts := max(target.Parts, 1)
			a = &assignment{path: target.Path, sources: make([]string, parts)}
			byPath[target.Path] = a
			layer, err := layerOf(target.Path, numLayers)
			if err != nil {
				return nil, err
			}
			if layer < 0 {
				plan.global = append(plan.global, a)
			} else {
				plan.layers[layer] = append(plan.layers[layer], a)
			}
		}
		if target.Part >= len(a.sources) || a.sources[target.Part] != "" {
			return nil, errors.Errorf("conflicting sources for %s: %q (part %d)", target.Path, name, target.Part)
		}
		a.sources[target.Part] = name
	}

	for _, a := range byPath {
		for i, s := range a.sources {
			if s == "" {
				return nil, errors.Errorf("%s: missing part %d of %d", a.path, i, len(a.sources))
			}
		}
	}
	return plan, nil
}

// layerOf returns N for paths under decoder/layer_N, or -1.
func layerOf(path string, numLayers int) (int, error) {
	const prefix = "decoder/layer_"
	if !strings.HasPrefix(path, prefix) {
		return -1, nil
	}
	rest := path[len(prefix):]
	if i := strings.Index(rest, spec.Separator); i >= 0 {
		rest = rest[:i]
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, errors.Errorf("malformed layer path %q", path)
	}
	if n >= numLayers {
		return 0, errors.Errorf("checkpoint has layer %d but the profile declares %d layers", n, numLayers)
	}
	return n, nil
}

func (p *fillPlan) fill(ctx context.Context, model spec.Spec, src loader.Source, opts Options) error {
	for _, a := range p.global {
		if err := a.apply(model, src); err != nil {
			return err
		}
	}

	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.NewOptions(len(p.layers),
			progressbar.OptionSetDescription("layers"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	} else {
		bar = progressbar.DefaultSilent(int64(len(p.layers)))
	}

	// Lookups are read-only walks; each worker owns the slots of its layer.
	err := parallel.ForEach(ctx, len(p.layers), func(_ context.Context, i int) error {
		for _, a := range p.layers[i] {
			if err := a.apply(model, src); err != nil {
				return err
			}
		}
		return bar.Add(1)
	}, opts.Parallel)
	if err != nil {
		return err
	}
	return bar.Finish()
}

func (a *assignment) apply(model spec.Spec, src loader.Source) error {
	tensors := make([]*spec.Tensor, len(a.sources))
	for i, name := range a.sources {
		t, err := src.LoadTensor(name)
		if err != nil {
			return errors.Wrapf(err, "failed to load %q", name)
		}
		tensors[i] = t
	}
	t, err := concat(tensors)
	if err != nil {
		return errors.Wrapf(err, "%s", a.path)
	}
	if err := spec.Set(model, a.path, t); err != nil {
		return errors.Wrapf(err, "failed to fill from %v", a.sources)
	}
	klog.V(2).Infof("%s <- %v %v", a.path, a.sources, t.Shape())
	return nil
}

// concat joins tensors along the first dimension.
func concat(tensors []*spec.Tensor) (*spec.Tensor, error) {
	if len(tensors) == 1 {
		return tensors[0], nil
	}
	first := tensors[0]
	shape := append([]int(nil), first.Shape()...)
	if len(shape) == 0 {
		return nil, errors.New("cannot concatenate scalars")
	}
	var data []byte
	shape[0] = 0
	for i, t := range tensors {
		if t.DType() != first.DType() {
			return nil, errors.Errorf("part %d is %s, part 0 is %s", i, t.DType(), first.DType())
		}
		s := t.Shape()
		if len(s) != len(shape) || !equalInts(s[1:], shape[1:]) {
			return nil, errors.Errorf("part %d has shape %v, part 0 has %v", i, s, first.Shape())
		}
		shape[0] += s[0]
		data = append(data, t.Bytes()...)
	}
	return spec.NewTensor(first.DType(), shape, data)
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// fillDerived fills the attributes not read from checkpoint tensors: tied projection
// weights and rotary scaling tables.
func fillDerived(model *layers.DecoderModelSpec, profile Profile) error {
	dec := model.Decoder
	if !dec.Projection.Weight.IsFilled() {
		emb, ok := dec.Embeddings.Weight.Tensor()
		if !ok {
			return errors.New("checkpoint has neither lm_head nor embed_tokens weights")
		}
		if !profile.TieWordEmbeddings {
			klog.Warningf("No lm_head weight in checkpoint: tying projection to embeddings")
		}
		if err := dec.Projection.Weight.Set(emb); err != nil {
			return errors.WithStack(err)
		}
	}

	for i, layer := range dec.Layer {
		rotary := layer.SelfAttention.Rotary
		if rotary == nil || rotary.Scaling == nil {
			continue
		}
		if err := fillRopeScaling(rotary.Scaling, profile.RopeScaling); err != nil {
			return errors.Wrapf(err, "layer_%d", i)
		}
	}
	return nil
}

func fillRopeScaling(scaling layers.RotaryScaling, rs *RopeScaling) error {
	switch s := scaling.(type) {
	case *layers.Llama3RotaryScaling:
		if rs == nil {
			return errors.New("llama3 rotary scaling needs rope_scaling factors")
		}
		low, err := spec.Float32(float64(rs.LowFreqFactor))
		if err != nil {
			return err
		}
		high, err := spec.Float32(float64(rs.HighFreqFactor))
		if err != nil {
			return err
		}
		if err := s.LowFreqFactor.Set(low); err != nil {
			return err
		}
		return s.HighFreqFactor.Set(high)
	case *layers.SuRotaryScaling:
		if rs == nil || len(rs.LongFactor) == 0 || len(rs.ShortFactor) == 0 {
			return errors.New("su rotary scaling needs long_factor and short_factor")
		}
		long, err := spec.FromFloat32([]int{len(rs.LongFactor)}, rs.LongFactor)
		if err != nil {
			return err
		}
		short, err := spec.FromFloat32([]int{len(rs.ShortFactor)}, rs.ShortFactor)
		if err != nil {
			return err
		}
		if err := s.LongFactor.Set(long); err != nil {
			return err
		}
		return s.ShortFactor.Set(short)
	}
	return nil
}
