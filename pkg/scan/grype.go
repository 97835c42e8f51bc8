package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/snapscope/snapscope/internal/data/model"
	"github.com/snapscope/snapscope/internal/log"
	"github.com/snapscope/snapscope/pkg/types"
)

// ErrVulnMatching indicates the vulnerability matcher failed or produced
// unusable output.
var ErrVulnMatching = fmt.Errorf("vulnerability matching failed")

// MatchReport is the subset of the grype JSON report the pipeline reads.
type MatchReport struct {
	Matches    []Match `json:"matches"`
	Descriptor struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"descriptor"`
	DB struct {
		Built string `json:"built"`
	} `json:"db"`
}

// Match is a single vulnerability match in the report.
type Match struct {
	Vulnerability          MatchVulnerability     `json:"vulnerability"`
	RelatedVulnerabilities []RelatedVulnerability `json:"relatedVulnerabilities"`
	Artifact               MatchArtifact          `json:"artifact"`
}

// MatchVulnerability is the primary vulnerability record of a match.
type MatchVulnerability struct {
	ID             string `json:"id"`
	Severity       string `json:"severity"`
	DataSource     string `json:"dataSource"`
	KnownExploited bool   `json:"knownExploited"`
	Fix            struct {
		Versions []string `json:"versions"`
		State    string   `json:"state"`
	} `json:"fix"`
}

// RelatedVulnerability carries upstream detail the primary record often
// lacks, such as a description and CVSS scores.
type RelatedVulnerability struct {
	ID             string `json:"id"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	KnownExploited bool   `json:"knownExploited"`
	CVSS           []struct {
		Metrics struct {
			BaseScore *float64 `json:"baseScore"`
		} `json:"metrics"`
	} `json:"cvss"`
}

// MatchArtifact identifies the component the match applies to.
type MatchArtifact struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SeverityCounts aggregates matches by severity, always recounted from the
// parsed list rather than trusted from the tool summary.
type SeverityCounts struct {
	Critical   int
	High       int
	Medium     int
	Low        int
	Negligible int
	Unknown    int
	KEV        int
}

// ParseVulnerabilities flattens a report into vulnerability rows. CVSS
// scores and descriptions come from related records when the primary record
// has none, and a match counts as known-exploited when either the primary or
// any related record says so.
func ParseVulnerabilities(report *MatchReport) []model.Vulnerability {
	vulns := make([]model.Vulnerability, 0, len(report.Matches))
	for _, m := range report.Matches {
		vuln := model.Vulnerability{
			VulnID:          m.Vulnerability.ID,
			Severity:        normalizeSeverity(m.Vulnerability.Severity),
			DataSource:      m.Vulnerability.DataSource,
			AffectedPackage: m.Artifact.Name,
			AffectedVersion: m.Artifact.Version,
			IsKEV:           m.Vulnerability.KnownExploited,
		}
		if len(m.Vulnerability.Fix.Versions) > 0 {
			vuln.FixedVersion = m.Vulnerability.Fix.Versions[0]
		}
		for _, related := range m.RelatedVulnerabilities {
			if related.KnownExploited {
				vuln.IsKEV = true
			}
			if vuln.Description == "" {
				vuln.Description = related.Description
			}
			if vuln.CVSSScore == nil {
				for _, cvss := range related.CVSS {
					if cvss.Metrics.BaseScore != nil {
						score := *cvss.Metrics.BaseScore
						vuln.CVSSScore = &score
						break
					}
				}
			}
		}
		vulns = append(vulns, vuln)
	}
	return vulns
}

// CountBySeverity tallies rows into severity buckets.
func CountBySeverity(vulns []model.Vulnerability) SeverityCounts {
	var counts SeverityCounts
	for _, v := range vulns {
		switch v.Severity {
		case "critical":
			counts.Critical++
		case "high":
			counts.High++
		case "medium":
			counts.Medium++
		case "low":
			counts.Low++
		case "negligible":
			counts.Negligible++
		default:
			counts.Unknown++
		}
		if v.IsKEV {
			counts.KEV++
		}
	}
	return counts
}

func normalizeSeverity(severity string) string {
	s := strings.ToLower(strings.TrimSpace(severity))
	if s == "" {
		return "unknown"
	}
	return s
}

// Matcher runs grype against generated SBOM documents.
type Matcher struct {
	executor types.CommandExecutor
	timeout  time.Duration
}

// NewMatcher creates a Matcher with the given executor and per-invocation
// timeout.
func NewMatcher(executor types.CommandExecutor, timeout time.Duration) *Matcher {
	return &Matcher{executor: executor, timeout: timeout}
}

// Match writes the SBOM to a temporary file, runs grype against it and
// parses the JSON report. An optional distro hint narrows matching to the
// given release. Grype exits non-zero for conditions that still produce a
// usable report, so a non-zero exit only fails the match when stderr carries
// an error indicator.
func (m *Matcher) Match(ctx context.Context, sbom []byte, distro string) (*MatchReport, []byte, error) {
	logger := log.NewLogger(ctx)

	tmp, err := os.CreateTemp("", "snapscope-sbom-*.json")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: creating sbom temp file: %v", ErrVulnMatching, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(sbom); err != nil {
		tmp.Close()
		return nil, nil, fmt.Errorf("%w: writing sbom temp file: %v", ErrVulnMatching, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, nil, fmt.Errorf("%w: closing sbom temp file: %v", ErrVulnMatching, err)
	}

	args := []string{fmt.Sprintf("sbom:%s", tmp.Name()), "-o", "json"}
	if distro != "" {
		args = append(args, "--distro", distro)
	}

	toolCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	stdout, stderr, err := m.executor.ExecuteCommand(toolCtx, "grype", args, nil)
	if err != nil {
		if strings.Contains(strings.ToLower(stderr), "error") || stdout == "" {
			logger.Error("grype invocation failed", zap.String("stderr", stderr), zap.Error(err))
			return nil, nil, fmt.Errorf("%w: running grype: %v", ErrVulnMatching, err)
		}
		logger.Warn("grype exited non-zero with usable output", zap.String("stderr", stderr))
	}

	var report MatchReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		return nil, nil, fmt.Errorf("%w: parsing grype report: %v", ErrVulnMatching, err)
	}
	return &report, []byte(stdout), nil
}
