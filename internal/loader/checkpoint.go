package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/born-ml/ct2spec/internal/spec"
)

// Checkpoint file names.
const (
	SingleFileName = "model.safetensors"
	IndexFileName  = "model.safetensors.index.json"
)

// Source provides access to the tensors of a checkpoint.
//
// Implementations must allow concurrent LoadTensor calls.
type Source interface {
	// TensorNames returns all tensor names, sorted.
	TensorNames() []string

	// TensorInfo returns the stored dtype and shape of a tensor.
	TensorInfo(name string) (*SafeTensorInfo, error)

	// LoadTensor reads one tensor.
	LoadTensor(name string) (*spec.Tensor, error)

	// Metadata returns checkpoint metadata, if any.
	Metadata() map[string]string

	// Close releases the underlying files.
	Close() error
}

// shardIndex is the content of model.safetensors.index.json.
type shardIndex struct {
	Metadata  map[string]any    `json:"metadata"`
	WeightMap map[string]string `json:"weight_map"`
}

// Checkpoint is a Source over one or more safetensors shards.
type Checkpoint struct {
	shards []*SafeTensorsReader
	owner  map[string]*SafeTensorsReader
	names  []string
}

// OpenCheckpoint opens a checkpoint. path may be a .safetensors file or a directory holding
// either model.safetensors or a sharded model.safetensors.index.json.
func OpenCheckpoint(path string) (*Checkpoint, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat checkpoint: %w", err)
	}
	if !stat.IsDir() {
		return openFiles([]string{path})
	}

	indexPath := filepath.Join(path, IndexFileName)
	if _, err := os.Stat(indexPath); err == nil {
		return openIndex(path, indexPath)
	}

	single := filepath.Join(path, SingleFileName)
	if _, err := os.Stat(single); err == nil {
		return openFiles([]string{single})
	}

	matches, err := filepath.Glob(filepath.Join(path, "*.safetensors"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoCheckpoint, path)
	}
	sort.Strings(matches)
	return openFiles(matches)
}

func openIndex(dir, indexPath string) (*Checkpoint, error) {
	//nolint:gosec // G304: path built from the checkpoint directory
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	var index shardIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", IndexFileName, err)
	}
	if len(index.WeightMap) == 0 {
		return nil, fmt.Errorf("%w: %s has an empty weight_map", ErrNoCheckpoint, indexPath)
	}

	seen := make(map[string]bool)
	var files []string
	for _, file := range index.WeightMap {
		if !seen[file] {
			seen[file] = true
			files = append(files, filepath.Join(dir, file))
		}
	}
	sort.Strings(files)

	ckpt, err := openFiles(files)
	if err != nil {
		return nil, err
	}
	for name := range index.WeightMap {
		if _, ok := ckpt.owner[name]; !ok {
			_ = ckpt.Close()
			return nil, fmt.Errorf("%w: %s listed in %s", ErrTensorNotFound, name, IndexFileName)
		}
	}
	return ckpt, nil
}

func openFiles(paths []string) (*Checkpoint, error) {
	ckpt := &Checkpoint{owner: make(map[string]*SafeTensorsReader)}
	for _, p := range paths {
		r, err := NewSafeTensorsReader(p)
		if err != nil {
			_ = ckpt.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		ckpt.shards = append(ckpt.shards, r)
		for _, name := range r.TensorNames() {
			if prev, ok := ckpt.owner[name]; ok {
				_ = ckpt.Close()
				return nil, fmt.Errorf("tensor %s found in both %s and %s", name, prev.Path(), p)
			}
			ckpt.owner[name] = r
			ckpt.names = append(ckpt.names, name)
		}
	}
	sort.Strings(ckpt.names)
	return ckpt, nil
}

// TensorNames implements Source.
func (c *Checkpoint) TensorNames() []string {
	return append([]string(nil), c.names...)
}

// TensorInfo implements Source.
func (c *Checkpoint) TensorInfo(name string) (*SafeTensorInfo, error) {
	r, ok := c.owner[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return r.TensorInfo(name)
}

// LoadTensor implements Source.
func (c *Checkpoint) LoadTensor(name string) (*spec.Tensor, error) {
	r, ok := c.owner[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return r.LoadTensor(name)
}

// Metadata returns the metadata of the first shard.
func (c *Checkpoint) Metadata() map[string]string {
	if len(c.shards) == 0 {
		return nil
	}
	return c.shards[0].Metadata()
}

// NumShards returns the number of safetensors files backing the checkpoint.
func (c *Checkpoint) NumShards() int {
	return len(c.shards)
}

// Close implements Source.
func (c *Checkpoint) Close() error {
	var errs []error
	for _, r := range c.shards {
		errs = append(errs, r.Close())
	}
	c.shards = nil
	return errors.Join(errs...)
}
