// Package domain defines the advisory records exchanged between crawler components.
package domain

import (
	"time"
)

// ListingStub is one row of a catalog listing page. Fields are kept as
// published by the source until the record is normalized.
type ListingStub struct {
	CVEID          string `json:"cve_id"`
	Title          string `json:"title"`
	CWEType        string `json:"cwe_type"`
	DisclosureDate string `json:"disclosure_date"`
	CVSSScore      string `json:"cvss_score"`
	DetailURL      string `json:"detail_url"`
}

// DetailPayload holds the raw fields scraped from a detail page.
// Any field may be empty or malformed.
type DetailPayload struct {
	CVEID            string   `json:"cve_id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Solution         string   `json:"solution"`
	CVSSScore        string   `json:"cvss_score"`
	DisclosureDate   string   `json:"disclosure_date"`
	ModifiedDate     string   `json:"modified_date,omitempty"`
	CWEType          string   `json:"cwe_type,omitempty"`
	AffectedProducts []string `json:"affected_products,omitempty"`
	References       []string `json:"references,omitempty"`
}

// MergeStub fills fields the detail page left blank from the listing row.
func (p DetailPayload) MergeStub(stub ListingStub) DetailPayload {
	if p.CVEID == "" {
		p.CVEID = stub.CVEID
	}
	if p.Title == "" {
		p.Title = stub.Title
	}
	if p.CVSSScore == "" {
		p.CVSSScore = stub.CVSSScore
	}
	if p.DisclosureDate == "" {
		p.DisclosureDate = stub.DisclosureDate
	}
	if p.CWEType == "" {
		p.CWEType = stub.CWEType
	}
	return p
}

// NormalizedRecord is the canonical advisory handed across the engine boundary.
type NormalizedRecord struct {
	CVEID            string    `json:"cve_id"`
	Title            string    `json:"title"`
	Severity         Severity  `json:"severity"`
	CVSSScore        float64   `json:"cvss_score"`
	PublishedDate    time.Time `json:"published_date"`
	LastModified     time.Time `json:"last_modified"`
	Description      string    `json:"description"`
	Solution         string    `json:"solution"`
	AffectedProducts []string  `json:"affected_products"`
	CWEIDs           []string  `json:"cwe_ids"`
	References       []string  `json:"references"`
}

// IsHighRisk reports whether the record scores 7.0 or above.
func (r NormalizedRecord) IsHighRisk() bool {
	return r.CVSSScore >= HighThreshold
}
