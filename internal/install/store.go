package install

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when an installation is not present in a File.
var ErrNotFound = errors.New("installation not found")

// File is the persisted form of the installation registry.
type File struct {
	Installations []Installation `yaml:"installations"`
	Nodes         []AgentNode    `yaml:"nodes,omitempty"`
}

// Node returns the node called name. An empty name is the local node; an
// unknown name is an agent without any home translation.
func (f File) Node(name string) Node {
	if name == "" {
		return LocalNode{}
	}
	for _, n := range f.Nodes {
		if n.NodeName == name {
			return n
		}
	}
	return AgentNode{NodeName: name}
}

// Put adds inst, replacing an existing entry of the same name in place.
func (f *File) Put(inst Installation) {
	for i := range f.Installations {
		if f.Installations[i].Name == inst.Name {
			f.Installations[i] = inst
			return
		}
	}
	f.Installations = append(f.Installations, inst)
}

// Remove deletes the installation called name.
func (f *File) Remove(name string) error {
	for i := range f.Installations {
		if f.Installations[i].Name == name {
			f.Installations = append(f.Installations[:i], f.Installations[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Load reads the registry file at path. A missing file is an empty registry.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("read installations %q: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse installations %q: %w", path, err)
	}
	return f, nil
}

// Save writes f to path through a temporary file so a concurrent Load never
// sees a partial registry.
func Save(path string, f File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode installations: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".installations-*.yml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %q: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %q: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %q: %w", path, err)
	}
	return nil
}
