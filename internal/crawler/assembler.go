package crawler

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sha1n/svn-river/internal/domain"
	"github.com/sha1n/svn-river/internal/metrics"
	"github.com/sha1n/svn-river/internal/revsource"
	"github.com/src-d/enry/v2"
)

// textMimeTypes are non "text/*" MIME types whose content is indexed as text.
var textMimeTypes = map[string]bool{
	"application/xml":        true,
	"application/json":       true,
	"application/javascript": true,
	"application/x-sh":       true,
	"application/x-yaml":     true,
	"image/svg+xml":          true,
}

// RevisionContext is the revision a changed entry belongs to.
type RevisionContext struct {
	Identity domain.Identity
	Commit   domain.Commit
}

// DocumentAssembler turns changed entries into documents.
type DocumentAssembler struct {
	source revsource.Source
	filter *EntryFilter
	logger *slog.Logger
}

// NewDocumentAssembler creates an assembler reading from source. A nil filter
// excludes nothing.
func NewDocumentAssembler(source revsource.Source, filter *EntryFilter, logger *slog.Logger) *DocumentAssembler {
	if filter == nil {
		filter = &EntryFilter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentAssembler{source: source, filter: filter, logger: logger}
}

// AssembleRevision builds the record of a commit with one document per
// changed entry, in change set order.
func (a *DocumentAssembler) AssembleRevision(ctx context.Context, identity domain.Identity, commit domain.Commit) (domain.RevisionRecord, error) {
	record := domain.NewRevisionRecord(identity, commit)
	rc := RevisionContext{Identity: identity, Commit: commit}
	for _, entry := range commit.Changes {
		doc, err := a.Assemble(ctx, entry, rc)
		if err != nil {
			return domain.RevisionRecord{}, err
		}
		record.Add(doc)
	}
	return record, nil
}

// Assemble builds the document of one changed entry. Only transport failures
// and cancellation are returned; any other failure yields a document without
// content.
func (a *DocumentAssembler) Assemble(ctx context.Context, entry domain.ChangeEntry, rc RevisionContext) (domain.Document, error) {
	dir, name := domain.SplitPath(entry.Path)
	doc := domain.Document{
		Type:       domain.TypeDocument,
		Path:       dir,
		Name:       name,
		FullName:   entry.Path,
		Change:     entry.Kind,
		Origin:     entry.CopiedFromPath,
		From:       entry.CopiedFromRevision,
		Author:     rc.Commit.Author,
		Repository: rc.Identity.ID,
		Revision:   rc.Commit.Revision,
		Date:       rc.Commit.Date,
		Message:    rc.Commit.Message,
	}
	if doc.Path == "" {
		doc.Path = "/"
	}

	if !entry.Kind.HasContent() {
		return doc, nil
	}

	// Excluded paths are never looked up.
	if a.filter.Excludes(entry.Path) {
		return a.filtered(doc, ReasonPattern), nil
	}

	rev := rc.Commit.Revision
	info, err := a.source.Stat(ctx, entry.Path, rev)
	if err != nil {
		return a.contentless(doc, err)
	}
	if info.Kind == revsource.KindDir {
		return doc, nil
	}
	doc.Size = info.Size

	if filtered, reason := a.filter.ShouldFilter(entry, info.Size); filtered {
		return a.filtered(doc, reason), nil
	}

	content, hint, err := a.source.ReadEntry(ctx, entry.Path, rev)
	if err != nil {
		return a.contentless(doc, err)
	}

	if !isText(hint, content) {
		sentinel := domain.ContentNotText
		doc.Content = &sentinel
		return doc, nil
	}

	text := string(content)
	doc.Content = &text
	doc.Language = enry.GetLanguage(name, content)
	doc.Symbols = ExtractSymbols(doc.Language, text)
	return doc, nil
}

// filtered stores the sentinel of reason as the content of doc.
func (a *DocumentAssembler) filtered(doc domain.Document, reason Reason) domain.Document {
	metrics.EntriesFiltered.WithLabelValues(string(reason)).Inc()
	a.logger.Debug("Entry filtered",
		"path", doc.FullName,
		"revision", doc.Revision,
		"reason", reason,
		"size", humanize.IBytes(uint64(max(doc.Size, 0))))
	sentinel := reason.Sentinel()
	doc.Content = &sentinel
	return doc
}

// contentless returns doc without content unless err must abort the window.
func (a *DocumentAssembler) contentless(doc domain.Document, err error) (domain.Document, error) {
	if errors.Is(err, revsource.ErrRepositoryUnreachable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return domain.Document{}, err
	}

	level := slog.LevelWarn
	if errors.Is(err, revsource.ErrEntryNotFound) {
		level = slog.LevelInfo
	}
	a.logger.Log(context.Background(), level, "Content not available",
		"path", doc.FullName,
		"revision", doc.Revision,
		"error", err)
	return doc, nil
}

// isText decides whether content is indexed as text. A MIME hint wins;
// without one the content is sniffed.
func isText(hint string, content []byte) bool {
	if hint != "" {
		mime, _, _ := strings.Cut(strings.ToLower(hint), ";")
		mime = strings.TrimSpace(mime)
		return strings.HasPrefix(mime, "text/") || textMimeTypes[mime]
	}
	return !enry.IsBinary(content)
}
