package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapscope/snapscope/internal/data/db"
	"github.com/snapscope/snapscope/internal/snapstore"
	"github.com/snapscope/snapscope/internal/storage"
)

type fakeCatalog struct {
	info *snapstore.SnapInfo
	err  error
}

func (f *fakeCatalog) GetSnapInfo(context.Context, string) (*snapstore.SnapInfo, error) {
	return f.info, f.err
}

type fakeGenerator struct {
	doc *SBOMDocument
	raw []byte
	err error
}

func (f *fakeGenerator) Generate(context.Context, string) (*SBOMDocument, []byte, error) {
	return f.doc, f.raw, f.err
}

type fakeMatcher struct {
	report *MatchReport
	raw    []byte
	err    error

	called    bool
	gotDistro string
}

func (f *fakeMatcher) Match(_ context.Context, _ []byte, distro string) (*MatchReport, []byte, error) {
	f.called = true
	f.gotDistro = distro
	return f.report, f.raw, f.err
}

// fakeObjectStore records every put and can fail selected buckets.
type fakeObjectStore struct {
	puts       map[string][]byte
	failBucket string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{puts: make(map[string][]byte)}
}

func (f *fakeObjectStore) PutJSON(_ context.Context, bucket, key string, doc []byte) error {
	if bucket == f.failBucket {
		return fmt.Errorf("bucket %s unavailable", bucket)
	}
	f.puts[bucket+"/"+key] = doc
	return nil
}

func (f *fakeObjectStore) GetJSON(_ context.Context, bucket, key string) ([]byte, error) {
	doc, ok := f.puts[bucket+"/"+key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return doc, nil
}

type fakeScanManager struct {
	inserted *db.ScanResultSet
	err      error
}

func (f *fakeScanManager) InsertScanResults(_ context.Context, results *db.ScanResultSet) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = results
	return nil
}

func (f *fakeScanManager) StalePackages(context.Context, time.Time, int) ([]string, error) {
	return nil, nil
}

func (f *fakeScanManager) TrackedPackages(context.Context, int) ([]db.TrackedPackage, error) {
	return nil, nil
}

func demoSnapInfo() *snapstore.SnapInfo {
	return &snapstore.SnapInfo{
		Name:      "demo-app",
		Title:     "Demo App",
		Publisher: "Demo Publisher",
		Verified:  true,
		StoreURL:  "https://snapcraft.io/demo-app",
		ChannelMap: []snapstore.ChannelEntry{
			{Channel: "stable", Architecture: "amd64", Revision: 42, Version: "1.4.0", Base: "core22", Confinement: "strict"},
		},
	}
}

type pipelineFixture struct {
	catalog   *fakeCatalog
	generator *fakeGenerator
	matcher   *fakeMatcher
	objects   *fakeObjectStore
	scans     *fakeScanManager
	pipeline  *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	var doc SBOMDocument
	require.NoError(t, json.Unmarshal([]byte(demoSyftOutput), &doc))
	var report MatchReport
	require.NoError(t, json.Unmarshal([]byte(demoGrypeReport), &report))

	f := &pipelineFixture{
		catalog:   &fakeCatalog{info: demoSnapInfo()},
		generator: &fakeGenerator{doc: &doc, raw: []byte(demoSyftOutput)},
		matcher:   &fakeMatcher{report: &report, raw: []byte(demoGrypeReport)},
		objects:   newFakeObjectStore(),
		scans:     &fakeScanManager{},
	}
	f.pipeline = NewPipeline(f.catalog, f.generator, f.matcher, f.objects, f.scans, "sboms", "vulnerabilities")
	f.pipeline.now = func() time.Time {
		return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	}
	return f
}

func TestDistroForBase(t *testing.T) {
	assert.Equal(t, "ubuntu:16.04", DistroForBase("core"))
	assert.Equal(t, "ubuntu:22.04", DistroForBase("core22"))
	assert.Equal(t, "ubuntu:24.04", DistroForBase("core24"))
	assert.Equal(t, "", DistroForBase("bare"))
	assert.Equal(t, "", DistroForBase(""))
}

func TestPipelineRun(t *testing.T) {
	f := newPipelineFixture(t)

	require.NoError(t, f.pipeline.Run(context.Background(), "demo-app"))

	require.NotNil(t, f.scans.inserted)
	inserted := f.scans.inserted
	assert.Equal(t, "demo-app", inserted.Package.Name)
	assert.Equal(t, 42, inserted.Revision.Revision)
	assert.Equal(t, "core22", inserted.Revision.Base)
	assert.Equal(t, "amd64", inserted.Revision.Architecture)

	// Counts come from the parsed findings, never the tool summary.
	assert.Equal(t, 1, inserted.Scan.HighCount)
	assert.Equal(t, 2, inserted.Scan.MediumCount)
	assert.Equal(t, 0, inserted.Scan.CriticalCount)
	assert.Equal(t, 1, inserted.Scan.KevCount)
	assert.Len(t, inserted.Vulnerabilities, 3)

	assert.Equal(t, "ubuntu:22.04", f.matcher.gotDistro)
	assert.Equal(t, "demo-app/42/sbom_20260830_120000.json", inserted.SBOM.ObjectKey)
	assert.Equal(t, "demo-app/42/vulns_20260830_120000.json", inserted.Scan.ObjectKey)
	assert.Contains(t, f.objects.puts, "sboms/demo-app/42/sbom_20260830_120000.json")
	assert.Contains(t, f.objects.puts, "vulnerabilities/demo-app/42/vulns_20260830_120000.json")
}

func TestPipelineRunMetadataUnavailable(t *testing.T) {
	f := newPipelineFixture(t)
	f.catalog.err = errors.New("store timeout")

	err := f.pipeline.Run(context.Background(), "demo-app")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMetadataUnavailable)
	assert.Nil(t, f.scans.inserted)
	assert.Empty(t, f.objects.puts)
}

func TestPipelineRunNoRevisionForArchitecture(t *testing.T) {
	f := newPipelineFixture(t)
	f.catalog.info.ChannelMap = []snapstore.ChannelEntry{
		{Channel: "stable", Architecture: "arm64", Revision: 40},
	}

	err := f.pipeline.Run(context.Background(), "demo-app")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMetadataUnavailable)
	assert.Nil(t, f.scans.inserted)
}

func TestPipelineRunSBOMFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.generator.err = fmt.Errorf("%w: syft crashed", ErrSBOMGeneration)

	err := f.pipeline.Run(context.Background(), "demo-app")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSBOMGeneration)
	assert.Nil(t, f.scans.inserted)
	assert.False(t, f.matcher.called)
}

func TestPipelineRunSBOMArchivalFailureIsFatal(t *testing.T) {
	f := newPipelineFixture(t)
	f.objects.failBucket = "sboms"

	err := f.pipeline.Run(context.Background(), "demo-app")
	require.Error(t, err)
	assert.Nil(t, f.scans.inserted)
	assert.False(t, f.matcher.called)
}

func TestPipelineRunReportArchivalFailureIsNot(t *testing.T) {
	f := newPipelineFixture(t)
	f.objects.failBucket = "vulnerabilities"

	require.NoError(t, f.pipeline.Run(context.Background(), "demo-app"))
	require.NotNil(t, f.scans.inserted)
	assert.Equal(t, "", f.scans.inserted.Scan.ObjectKey)
	assert.Len(t, f.scans.inserted.Vulnerabilities, 3)
}

func TestPipelineRunMatchFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.matcher.err = fmt.Errorf("%w: db load failed", ErrVulnMatching)

	err := f.pipeline.Run(context.Background(), "demo-app")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVulnMatching)
	assert.Nil(t, f.scans.inserted)
}

func TestPipelineRunBaseHintFromSBOM(t *testing.T) {
	f := newPipelineFixture(t)
	f.catalog.info.ChannelMap[0].Base = ""

	require.NoError(t, f.pipeline.Run(context.Background(), "demo-app"))
	// The snap-entry artifact in the document carries core22.
	assert.Equal(t, "core22", f.scans.inserted.Revision.Base)
	assert.Equal(t, "ubuntu:22.04", f.matcher.gotDistro)
}

func TestPipelineRunUnmappedBase(t *testing.T) {
	f := newPipelineFixture(t)
	f.catalog.info.ChannelMap[0].Base = "bare"
	f.generator.doc = &SBOMDocument{}

	require.NoError(t, f.pipeline.Run(context.Background(), "demo-app"))
	assert.Equal(t, "", f.matcher.gotDistro)
	assert.Equal(t, "bare", f.scans.inserted.Revision.Base)
}

func TestPipelineRunPersistFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.scans.err = errors.New("constraint violation")

	err := f.pipeline.Run(context.Background(), "demo-app")
	require.Error(t, err)
	assert.Nil(t, f.scans.inserted)
}
