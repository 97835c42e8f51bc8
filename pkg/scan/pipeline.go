package scan

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/snapscope/snapscope/internal/data/db"
	"github.com/snapscope/snapscope/internal/data/model"
	"github.com/snapscope/snapscope/internal/log"
	"github.com/snapscope/snapscope/internal/snapstore"
	"github.com/snapscope/snapscope/internal/storage"
)

// ErrMetadataUnavailable indicates the catalog could not supply the metadata
// needed to start a scan.
var ErrMetadataUnavailable = fmt.Errorf("snap metadata unavailable")

// DefaultArchitecture is the architecture scanned when a job does not name
// one.
const DefaultArchitecture = "amd64"

// objectKeyTimestamp is the layout for timestamps embedded in object keys.
const objectKeyTimestamp = "20060102_150405"

// CatalogClient resolves snap metadata and the revision to scan.
type CatalogClient interface {
	GetSnapInfo(ctx context.Context, snapName string) (*snapstore.SnapInfo, error)
}

// SBOMGenerator produces an SBOM document for a snap.
type SBOMGenerator interface {
	Generate(ctx context.Context, snapName string) (*SBOMDocument, []byte, error)
}

// VulnMatcher matches an SBOM against the vulnerability database.
type VulnMatcher interface {
	Match(ctx context.Context, sbom []byte, distro string) (*MatchReport, []byte, error)
}

// Pipeline runs the five scan stages for one snap: resolve metadata,
// generate the SBOM, archive it, match vulnerabilities, persist everything.
type Pipeline struct {
	catalog    CatalogClient
	generator  SBOMGenerator
	matcher    VulnMatcher
	objects    storage.ObjectStore
	scans      db.ScanManager
	sbomBucket string
	vulnBucket string
	now        func() time.Time
}

// NewPipeline wires a Pipeline from its collaborators.
func NewPipeline(catalog CatalogClient, generator SBOMGenerator, matcher VulnMatcher,
	objects storage.ObjectStore, scans db.ScanManager, sbomBucket, vulnBucket string) *Pipeline {
	return &Pipeline{
		catalog:    catalog,
		generator:  generator,
		matcher:    matcher,
		objects:    objects,
		scans:      scans,
		sbomBucket: sbomBucket,
		vulnBucket: vulnBucket,
		now:        time.Now,
	}
}

// Run scans one snap end to end. Until the final persistence step succeeds
// no database rows are written; a failure at any stage leaves the relational
// state untouched.
func (p *Pipeline) Run(ctx context.Context, snapName string) error {
	logger := log.NewLogger(ctx)

	// Stage 1: catalog metadata and revision resolution.
	info, err := p.catalog.GetSnapInfo(ctx, snapName)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMetadataUnavailable, snapName, err)
	}
	rev, err := snapstore.ResolveRevision(info, DefaultArchitecture)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMetadataUnavailable, snapName, err)
	}
	logger.Info("scanning snap",
		zap.String("snap", snapName),
		zap.Int("revision", rev.Revision),
		zap.String("version", rev.Version))

	// Stage 2: SBOM generation.
	doc, rawSBOM, err := p.generator.Generate(ctx, snapName)
	if err != nil {
		return err
	}
	summary := Summarize(doc)

	base := rev.Base
	if base == "" {
		base = summary.Base
	}

	// Stage 3: SBOM archival. Losing the SBOM object fails the scan.
	timestamp := p.now().UTC().Format(objectKeyTimestamp)
	sbomKey := fmt.Sprintf("%s/%d/sbom_%s.json", snapName, rev.Revision, timestamp)
	if err := p.objects.PutJSON(ctx, p.sbomBucket, sbomKey, rawSBOM); err != nil {
		return fmt.Errorf("archiving sbom for %s: %w", snapName, err)
	}

	// Stage 4: vulnerability matching.
	distro := DistroForBase(base)
	if base != "" && distro == "" {
		logger.Warn("no distro mapping for base, matching without hint",
			zap.String("snap", snapName), zap.String("base", base))
	}
	report, rawReport, err := p.matcher.Match(ctx, rawSBOM, distro)
	if err != nil {
		return err
	}

	vulns := ParseVulnerabilities(report)
	counts := CountBySeverity(vulns)

	// The vulnerability report object is best-effort; the findings live in
	// the database regardless.
	vulnKey := fmt.Sprintf("%s/%d/vulns_%s.json", snapName, rev.Revision, timestamp)
	if err := p.objects.PutJSON(ctx, p.vulnBucket, vulnKey, rawReport); err != nil {
		logger.Warn("archiving vulnerability report failed",
			zap.String("snap", snapName), zap.Error(err))
		vulnKey = ""
	}

	// Stage 5: persist the full result set in one transaction.
	results := &db.ScanResultSet{
		Package: model.Package{
			Name:          info.Name,
			Title:         info.Title,
			Summary:       info.Summary,
			Description:   info.Description,
			IconURL:       info.IconURL,
			Publisher:     info.Publisher,
			PublisherID:   info.PublisherID,
			Verified:      info.Verified,
			StarDeveloper: info.StarDeveloper,
			StoreURL:      info.StoreURL,
		},
		Revision: model.Revision{
			Revision:     rev.Revision,
			Architecture: rev.Architecture,
			Version:      rev.Version,
			Base:         base,
			Confinement:  rev.Confinement,
			PublishedAt:  rev.ReleasedAt,
		},
		SBOM: model.SBOM{
			ObjectKey:         sbomKey,
			TotalComponents:   summary.Total,
			KnownComponents:   summary.Known,
			UnknownComponents: summary.Unknown,
			SyftVersion:       summary.SyftVersion,
			GeneratedAt:       p.now().UTC(),
		},
		Scan: model.Scan{
			ObjectKey:       vulnKey,
			GrypeVersion:    report.Descriptor.Version,
			GrypeDBVersion:  report.DB.Built,
			Distro:          distro,
			CriticalCount:   counts.Critical,
			HighCount:       counts.High,
			MediumCount:     counts.Medium,
			LowCount:        counts.Low,
			NegligibleCount: counts.Negligible,
			UnknownCount:    counts.Unknown,
			KevCount:        counts.KEV,
			ScannedAt:       p.now().UTC(),
		},
		Vulnerabilities: vulns,
	}
	if err := p.scans.InsertScanResults(ctx, results); err != nil {
		return fmt.Errorf("persisting scan results for %s: %w", snapName, err)
	}

	logger.Info("scan complete",
		zap.String("snap", snapName),
		zap.Int("revision", rev.Revision),
		zap.Int("vulnerabilities", len(vulns)),
		zap.Int("critical", counts.Critical),
		zap.Int("high", counts.High))
	return nil
}
