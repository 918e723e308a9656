package domain

import (
	"strings"
	"time"
)

// Document types, stored in FieldType and used as bleve type names.
const (
	TypeRevision   = "revision"
	TypeDocument   = "document"
	TypeCheckpoint = "checkpoint"
)

// Content sentinels stored instead of the file content when it was not extracted.
const (
	ContentNotText         = "Not text type"
	ContentFilteredPattern = "Filtered out: path matches an exclusion pattern"
	ContentFilteredSize    = "Filtered out: file exceeds the maximum file size"
)

// RevisionRecord is one processed commit. It owns the documents of its changed paths.
type RevisionRecord struct {
	Type       string     `json:"type"`
	Repository string     `json:"repository"`
	Location   string     `json:"location,omitempty"`
	Revision   Revision   `json:"revision"`
	Author     string     `json:"author"`
	Date       time.Time  `json:"date"`
	Message    string     `json:"message"`
	Documents  []Document `json:"-"`
}

// NewRevisionRecord creates an empty record from a commit.
func NewRevisionRecord(identity Identity, commit Commit) RevisionRecord {
	return RevisionRecord{
		Type:       TypeRevision,
		Repository: identity.ID,
		Location:   identity.Display(),
		Revision:   commit.Revision,
		Author:     commit.Author,
		Date:       commit.Date,
		Message:    commit.Message,
	}
}

// ID is the dedup key of the record: resubmitting a revision overwrites it.
func (r RevisionRecord) ID() string {
	return hashID(r.Revision, r.Repository)
}

// BleveType selects the index mapping of the record.
func (r RevisionRecord) BleveType() string {
	return TypeRevision
}

// Add attaches a document to the record.
func (r *RevisionRecord) Add(doc Document) {
	r.Documents = append(r.Documents, doc)
}

// Document is the indexable form of one changed path at a revision.
// Revision metadata is denormalized into every document.
type Document struct {
	Type     string     `json:"type"`
	Path     string     `json:"path"`
	Name     string     `json:"name"`
	FullName string     `json:"fullname"`
	Size     int64      `json:"size"`
	Change   ChangeKind `json:"change"`
	// Content is nil when absent (deleted, replaced, or unreadable entries).
	Content  *string `json:"content,omitempty"`
	Language string  `json:"language,omitempty"`
	// Symbols are the identifiers declared by source code content.
	Symbols []string `json:"symbols,omitempty"`
	Origin  string   `json:"origin,omitempty"`
	From    Revision `json:"from,omitempty"`

	Author     string    `json:"author"`
	Repository string    `json:"repository"`
	Revision   Revision  `json:"revision"`
	Date       time.Time `json:"date"`
	Message    string    `json:"message"`
}

// ID is the dedup key of the document: hash of its full path and revision.
func (d Document) ID() string {
	return hashID(d.Revision, d.FullName)
}

// BleveType selects the index mapping of the document.
func (d Document) BleveType() string {
	return TypeDocument
}

// HasContent reports whether the document carries a content value (real or sentinel).
func (d Document) HasContent() bool {
	return d.Content != nil
}

// ContentString returns the content or "" when absent.
func (d Document) ContentString() string {
	if d.Content == nil {
		return ""
	}
	return *d.Content
}

// SplitPath splits a repository path into its parent directory and leaf name.
//
//	"/module1/trunk/a.txt" -> "/module1/trunk", "a.txt"
//	"/a.txt"               -> "", "a.txt"
func SplitPath(fullName string) (dir, name string) {
	idx := strings.LastIndex(fullName, "/")
	if idx < 0 {
		return "", fullName
	}
	return fullName[:idx], fullName[idx+1:]
}

// CheckpointMarker is written in every batch next to the content so the
// document store itself records how far a repository was indexed.
type CheckpointMarker struct {
	Type       string   `json:"type"`
	Repository string   `json:"repository"`
	Location   string   `json:"location"`
	Revision   Revision `json:"revision"`
}

// BleveType selects the index mapping of the marker.
func (m CheckpointMarker) BleveType() string {
	return TypeCheckpoint
}

// CheckpointMarkerID returns the document ID of an identity's checkpoint marker.
func CheckpointMarkerID(identity Identity) string {
	return "_indexed_revision_" + identity.ID
}

// Bleve field name constants for consistent field references in queries and mappings.
const (
	FieldType       = "type"
	FieldRepository = "repository"
	FieldLocation   = "location"
	FieldRevision   = "revision"
	FieldAuthor     = "author"
	FieldDate       = "date"
	FieldMessage    = "message"
	FieldPath       = "path"
	FieldName       = "name"
	FieldFullName   = "fullname"
	FieldSize       = "size"
	FieldChange     = "change"
	FieldContent    = "content"
	FieldLanguage   = "language"
	FieldOrigin     = "origin"
	FieldFrom       = "from"
	FieldSymbols    = "symbols"
)
