package builder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/qobs-build/mcubuild/internal/toolchain"
)

const ManifestFilename = "mcubuild.json"

// Manifest records what a build ran, it is rewritten after every successful build
type Manifest struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Profile     string         `json:"profile"`
	Device      string         `json:"device"`
	GitRevision string         `json:"git_revision,omitempty"`
	Finished    time.Time      `json:"finished"`
	Elf         string         `json:"elf"`
	Hex         string         `json:"hex"`
	Steps       []ManifestStep `json:"steps"`
}

type ManifestStep struct {
	Kind   string   `json:"kind"`
	Output string   `json:"output"`
	Argv   []string `json:"argv"`
}

func newManifest(b *Builder, plan *toolchain.Plan, rev string) Manifest {
	m := Manifest{
		ID:          uuid.New().String(),
		Name:        b.settings.Name,
		Profile:     b.settings.Profile,
		Device:      b.settings.Device,
		GitRevision: rev,
		Finished:    time.Now().UTC(),
		Elf:         b.settings.Elf,
		Hex:         b.settings.Hex,
	}
	for _, step := range plan.Steps() {
		m.Steps = append(m.Steps, ManifestStep{
			Kind:   step.Kind.String(),
			Output: step.Output,
			Argv:   step.Argv(),
		})
	}
	return m
}

func (m Manifest) save(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestFilename), data, 0644)
}
