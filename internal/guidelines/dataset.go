// Package guidelines serves the static IMPCG reference content: searchable
// guideline chunks and the drug and protocol catalogue.
package guidelines

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/impcg-clinical-engine/internal/domain"
)

//go:embed data/*.yaml
var dataFS embed.FS

const (
	contentFile   = "data/content.yaml"
	protocolsFile = "data/protocols.yaml"
)

// Dataset is the bundled reference content.
type Dataset struct {
	Chunks    []domain.GuidelineChunk
	Protocols []domain.ProtocolItem
}

type chunkFile struct {
	Chunks []domain.GuidelineChunk `yaml:"chunks"`
}

type protocolFile struct {
	Items []domain.ProtocolItem `yaml:"items"`
}

// LoadDataset decodes the embedded content files.
func LoadDataset() (*Dataset, error) {
	content, err := dataFS.ReadFile(contentFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", contentFile, err)
	}
	protocols, err := dataFS.ReadFile(protocolsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", protocolsFile, err)
	}
	return ParseDataset(content, protocols)
}

// ParseDataset decodes guideline chunks and protocol items from YAML.
// Duplicate IDs are rejected.
func ParseDataset(content, protocols []byte) (*Dataset, error) {
	var cf chunkFile
	if err := yaml.Unmarshal(content, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse guideline content: %w", err)
	}
	var pf protocolFile
	if err := yaml.Unmarshal(protocols, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse protocol catalogue: %w", err)
	}

	seen := make(map[string]bool, len(cf.Chunks))
	for _, c := range cf.Chunks {
		if c.ID == "" {
			return nil, fmt.Errorf("guideline chunk %q has no id", c.Title)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate guideline chunk id %q", c.ID)
		}
		seen[c.ID] = true
	}
	seen = make(map[string]bool, len(pf.Items))
	for _, p := range pf.Items {
		if p.ID == "" {
			return nil, fmt.Errorf("protocol item %q has no id", p.Title)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate protocol id %q", p.ID)
		}
		seen[p.ID] = true
	}

	return &Dataset{Chunks: cf.Chunks, Protocols: pf.Items}, nil
}
