package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapscope/snapscope/internal/data/model"
)

const demoGrypeReport = `{
	"matches": [
		{
			"vulnerability": {
				"id": "CVE-2024-0001", "severity": "High",
				"dataSource": "https://ubuntu.com/security/CVE-2024-0001",
				"fix": {"versions": ["3.0.2-1ubuntu1"], "state": "fixed"}
			},
			"relatedVulnerabilities": [
				{"id": "CVE-2024-0001", "severity": "High",
				 "description": "Heap overflow in libssl",
				 "cvss": [{"metrics": {"baseScore": 8.1}}]}
			],
			"artifact": {"name": "libssl3", "version": "3.0.2"}
		},
		{
			"vulnerability": {"id": "CVE-2024-0002", "severity": "Medium"},
			"artifact": {"name": "zlib1g", "version": "1.2.11"}
		},
		{
			"vulnerability": {"id": "CVE-2024-0003", "severity": "Medium"},
			"relatedVulnerabilities": [
				{"id": "CVE-2024-0003", "severity": "Medium", "knownExploited": true}
			],
			"artifact": {"name": "curl", "version": "7.81.0"}
		}
	],
	"descriptor": {"name": "grype", "version": "0.85.0"},
	"db": {"built": "2026-08-29T06:00:00Z"}
}`

func TestParseVulnerabilities(t *testing.T) {
	report := requireReport(t, demoGrypeReport)

	vulns := ParseVulnerabilities(report)
	require.Len(t, vulns, 3)

	first := vulns[0]
	assert.Equal(t, "CVE-2024-0001", first.VulnID)
	assert.Equal(t, "high", first.Severity)
	assert.Equal(t, "Heap overflow in libssl", first.Description)
	require.NotNil(t, first.CVSSScore)
	assert.Equal(t, 8.1, *first.CVSSScore)
	assert.Equal(t, "libssl3", first.AffectedPackage)
	assert.Equal(t, "3.0.2", first.AffectedVersion)
	assert.Equal(t, "3.0.2-1ubuntu1", first.FixedVersion)
	assert.False(t, first.IsKEV)

	second := vulns[1]
	assert.Equal(t, "medium", second.Severity)
	assert.Nil(t, second.CVSSScore)
	assert.Equal(t, "", second.FixedVersion)

	// KEV on a related record marks the finding.
	assert.True(t, vulns[2].IsKEV)
}

func TestCountBySeverity(t *testing.T) {
	report := requireReport(t, demoGrypeReport)
	counts := CountBySeverity(ParseVulnerabilities(report))

	assert.Equal(t, SeverityCounts{High: 1, Medium: 2, KEV: 1}, counts)
}

func TestCountBySeverityUnlabeled(t *testing.T) {
	counts := CountBySeverity([]model.Vulnerability{
		{VulnID: "CVE-2024-0009", Severity: "unknown"},
		{VulnID: "CVE-2024-0010", Severity: "critical"},
		{VulnID: "CVE-2024-0011", Severity: "negligible"},
	})
	assert.Equal(t, SeverityCounts{Critical: 1, Negligible: 1, Unknown: 1}, counts)
}

func TestNormalizeSeverity(t *testing.T) {
	assert.Equal(t, "high", normalizeSeverity("High"))
	assert.Equal(t, "unknown", normalizeSeverity(""))
	assert.Equal(t, "unknown", normalizeSeverity("  "))
}

func TestMatcherMatch(t *testing.T) {
	executor := &fakeExecutor{stdout: demoGrypeReport}
	matcher := NewMatcher(executor, time.Minute)

	report, raw, err := matcher.Match(context.Background(), []byte(`{"artifacts": []}`), "ubuntu:22.04")
	require.NoError(t, err)
	assert.Equal(t, "grype", executor.gotName)
	require.Len(t, executor.gotArgs, 5)
	assert.Equal(t, []string{"-o", "json", "--distro", "ubuntu:22.04"}, executor.gotArgs[1:])
	assert.Len(t, report.Matches, 3)
	assert.Equal(t, "0.85.0", report.Descriptor.Version)
	assert.Equal(t, "2026-08-29T06:00:00Z", report.DB.Built)
	assert.JSONEq(t, demoGrypeReport, string(raw))
}

func TestMatcherMatchNoDistro(t *testing.T) {
	executor := &fakeExecutor{stdout: `{"matches": []}`}
	matcher := NewMatcher(executor, time.Minute)

	_, _, err := matcher.Match(context.Background(), []byte(`{}`), "")
	require.NoError(t, err)
	assert.NotContains(t, executor.gotArgs, "--distro")
}

func TestMatcherMatchNonZeroExitWithReport(t *testing.T) {
	// Grype exits non-zero under --fail-on style conditions while still
	// writing a full report.
	executor := &fakeExecutor{
		stdout: demoGrypeReport,
		stderr: "discovered vulnerabilities at or above the severity threshold",
		err:    errors.New("exit status 1"),
	}
	matcher := NewMatcher(executor, time.Minute)

	report, _, err := matcher.Match(context.Background(), []byte(`{}`), "")
	require.NoError(t, err)
	assert.Len(t, report.Matches, 3)
}

func TestMatcherMatchToolError(t *testing.T) {
	executor := &fakeExecutor{
		stderr: "error: failed to load vulnerability db",
		err:    errors.New("exit status 1"),
	}
	matcher := NewMatcher(executor, time.Minute)

	_, _, err := matcher.Match(context.Background(), []byte(`{}`), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVulnMatching)
}

func TestMatcherMatchMalformedReport(t *testing.T) {
	executor := &fakeExecutor{stdout: "not json"}
	matcher := NewMatcher(executor, time.Minute)

	_, _, err := matcher.Match(context.Background(), []byte(`{}`), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVulnMatching)
}

func requireReport(t *testing.T, raw string) *MatchReport {
	t.Helper()
	executor := &fakeExecutor{stdout: raw}
	matcher := NewMatcher(executor, time.Minute)
	report, _, err := matcher.Match(context.Background(), []byte(`{}`), "")
	require.NoError(t, err)
	return report
}
