package model

import "time"

// Package represents a snap tracked by the scanner. Display metadata is
// upserted on every successful scan; later values overwrite earlier ones.
type Package struct {
	CreatedAt     time.Time  `json:"CreatedAt" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"UpdatedAt" gorm:"autoUpdateTime"`
	Name          string     `json:"Name" gorm:"uniqueIndex;not null"`
	Title         string     `json:"Title"`
	Summary       string     `json:"Summary"`
	Description   string     `json:"Description"`
	IconURL       string     `json:"IconURL"`
	Publisher     string     `json:"Publisher"`
	PublisherID   string     `json:"PublisherID"`
	Verified      bool       `json:"Verified"`
	StarDeveloper bool       `json:"StarDeveloper"`
	StoreURL      string     `json:"StoreURL"`
	Revisions     []Revision `json:"Revisions" gorm:"foreignKey:PackageID;constraint:OnDelete:CASCADE"`
	ID            uint       `json:"ID" gorm:"primaryKey;autoIncrement"`
}

// Revision represents one published build of a package on an architecture.
// (PackageID, Revision, Architecture) is unique; version and base are
// replaced when the same revision is scanned again.
type Revision struct {
	CreatedAt    time.Time  `json:"CreatedAt" gorm:"autoCreateTime"`
	PackageID    uint       `json:"PackageID" gorm:"uniqueIndex:idx_pkg_rev_arch;not null"`
	Revision     int        `json:"Revision" gorm:"uniqueIndex:idx_pkg_rev_arch;not null"`
	Architecture string     `json:"Architecture" gorm:"uniqueIndex:idx_pkg_rev_arch;default:amd64"`
	Version      string     `json:"Version"`
	Base         string     `json:"Base"`
	Confinement  string     `json:"Confinement"`
	PublishedAt  *time.Time `json:"PublishedAt"`
	SBOMs        []SBOM     `json:"SBOMs" gorm:"foreignKey:RevisionID;constraint:OnDelete:CASCADE"`
	ID           uint       `json:"ID" gorm:"primaryKey;autoIncrement"`
}
