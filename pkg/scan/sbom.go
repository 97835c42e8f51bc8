package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/snapscope/snapscope/internal/log"
	"github.com/snapscope/snapscope/pkg/types"
)

// ErrSBOMGeneration indicates the SBOM tool failed or produced unusable
// output.
var ErrSBOMGeneration = fmt.Errorf("sbom generation failed")

// SBOMDocument is the subset of the syft JSON document the pipeline reads.
type SBOMDocument struct {
	Artifacts  []SBOMArtifact `json:"artifacts"`
	Descriptor struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"descriptor"`
}

// SBOMArtifact is a single component entry in the document.
type SBOMArtifact struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Type         string          `json:"type"`
	MetadataType string          `json:"metadataType"`
	Metadata     json.RawMessage `json:"metadata"`
}

// SBOMSummary holds the counts and metadata extracted from a document.
type SBOMSummary struct {
	Total       int
	Known       int
	Unknown     int
	Base        string
	SyftVersion string
}

// Summarize walks the artifact list and extracts component counts, the tool
// version and, when present, the base declared by a snap-entry artifact.
func Summarize(doc *SBOMDocument) SBOMSummary {
	summary := SBOMSummary{
		Total:       len(doc.Artifacts),
		SyftVersion: doc.Descriptor.Version,
	}
	for _, artifact := range doc.Artifacts {
		if artifact.Type == "binary" {
			summary.Unknown++
		} else {
			summary.Known++
		}
		if summary.Base == "" && artifact.MetadataType == "snap-entry" {
			var meta struct {
				Base string `json:"base"`
			}
			if err := json.Unmarshal(artifact.Metadata, &meta); err == nil {
				summary.Base = meta.Base
			}
		}
	}
	return summary
}

// Generator produces SBOM documents by invoking syft as a subprocess.
type Generator struct {
	executor types.CommandExecutor
	timeout  time.Duration
}

// NewGenerator creates a Generator with the given executor and per-invocation
// timeout.
func NewGenerator(executor types.CommandExecutor, timeout time.Duration) *Generator {
	return &Generator{executor: executor, timeout: timeout}
}

// Generate runs syft against the named snap and parses its JSON output. The
// raw document bytes are returned alongside the parsed form so callers can
// archive exactly what the tool produced.
func (g *Generator) Generate(ctx context.Context, snapName string) (*SBOMDocument, []byte, error) {
	logger := log.NewLogger(ctx)
	toolCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	target := fmt.Sprintf("snap:%s", snapName)
	stdout, stderr, err := g.executor.ExecuteCommand(toolCtx, "syft", []string{target, "-o", "syft-json"}, nil)
	if err != nil {
		logger.Error("syft invocation failed", zap.String("snap", snapName), zap.String("stderr", stderr), zap.Error(err))
		return nil, nil, fmt.Errorf("%w: running syft for %s: %v", ErrSBOMGeneration, snapName, err)
	}

	var doc SBOMDocument
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: parsing syft output for %s: %v", ErrSBOMGeneration, snapName, err)
	}
	return &doc, []byte(stdout), nil
}
