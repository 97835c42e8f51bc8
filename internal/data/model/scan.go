package model

import "time"

// SBOM represents one generated software bill of materials for a revision.
// Rows are append-only; a new scan inserts a new row.
type SBOM struct {
	ID                uint      `json:"ID" gorm:"primaryKey;autoIncrement"`
	RevisionID        uint      `json:"RevisionID" gorm:"index;not null"`
	ObjectKey         string    `json:"ObjectKey" gorm:"not null"`
	TotalComponents   int       `json:"TotalComponents"`
	KnownComponents   int       `json:"KnownComponents"`
	UnknownComponents int       `json:"UnknownComponents"`
	SyftVersion       string    `json:"SyftVersion"`
	GeneratedAt       time.Time `json:"GeneratedAt" gorm:"autoCreateTime"`
	Scans             []Scan    `json:"Scans" gorm:"foreignKey:SBOMID;constraint:OnDelete:CASCADE"`
}

// Scan represents the result of matching one SBOM against the vulnerability
// database. Severity counts are derived from the child Vulnerability rows,
// never from a tool-reported summary. Rows are append-only.
type Scan struct {
	ID              uint            `json:"ID" gorm:"primaryKey;autoIncrement"`
	SBOMID          uint            `json:"SBOMID" gorm:"index;not null"`
	ObjectKey       string          `json:"ObjectKey" gorm:"not null"`
	GrypeVersion    string          `json:"GrypeVersion"`
	GrypeDBVersion  string          `json:"GrypeDBVersion"`
	Distro          string          `json:"Distro"`
	CriticalCount   int             `json:"CriticalCount"`
	HighCount       int             `json:"HighCount"`
	MediumCount     int             `json:"MediumCount"`
	LowCount        int             `json:"LowCount"`
	NegligibleCount int             `json:"NegligibleCount"`
	UnknownCount    int             `json:"UnknownCount"`
	KevCount        int             `json:"KevCount"`
	ScannedAt       time.Time       `json:"ScannedAt" gorm:"autoCreateTime"`
	Vulnerabilities []Vulnerability `json:"Vulnerabilities" gorm:"foreignKey:ScanID;constraint:OnDelete:CASCADE"`
}

// Vulnerability is a single CVE/GHSA-style finding within a scan, created in
// bulk per scan and never mutated.
type Vulnerability struct {
	ID              uint     `json:"ID" gorm:"primaryKey;autoIncrement"`
	ScanID          uint     `json:"ScanID" gorm:"index;not null"`
	VulnID          string   `json:"VulnID" gorm:"not null"`
	Severity        string   `json:"Severity"`
	CVSSScore       *float64 `json:"CVSSScore"`
	Description     string   `json:"Description"`
	AffectedPackage string   `json:"AffectedPackage"`
	AffectedVersion string   `json:"AffectedVersion"`
	FixedVersion    string   `json:"FixedVersion"`
	IsKEV           bool     `json:"IsKEV"`
	DataSource      string   `json:"DataSource"`
}
