// Package export produces masked data bundles for data subject requests and
// archive tooling. Masking is decided by the classification registry before
// anything is serialized. JSON output streams page by page; CSV buffers rows
// to compute the union header first.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"custodia/internal/classification"
	"custodia/internal/registry"
	"custodia/internal/vault"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domainerrors"
)

// Format selects the bundle serialization.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat constructs a Format from external input.
func ParseFormat(s string) (Format, error) {
	f := Format(s)
	if f != FormatJSON && f != FormatCSV {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown export format %q", s)
	}
	return f, nil
}

// RedactedPlaceholder replaces restricted values for unauthorized readers in
// non-strict mode.
const RedactedPlaceholder = "[REDACTED]"

// maskedPlaceholder replaces confidential values for unauthorized readers.
const maskedPlaceholder = "[MASKED]"

// unrecoverablePlaceholder stands in for a value whose ciphertext failed
// authentication. A decryption failure is fatal for the field, not the
// bundle.
const unrecoverablePlaceholder = "[UNRECOVERABLE]"

// Options configure one export.
type Options struct {
	Format Format
	// Requester identifies who asked, for the manifest.
	Requester string
	// RequesterLevel is the reader's authorization tier; fields above it
	// are masked or redacted.
	RequesterLevel domain.ClassificationLevel
	// Strict aborts with CodeExport instead of redacting restricted fields.
	Strict bool
	// PortableOnly drops fields whose origin is not self-provided or
	// observed (portability requests).
	PortableOnly bool
}

// Manifest describes a finished bundle.
type Manifest struct {
	ExportedAt   time.Time `json:"exported_at"`
	Requester    string    `json:"requester"`
	MaskingLevel string    `json:"masking_level"`
	Format       Format    `json:"format"`
	RecordCount  int       `json:"record_count"`
}

// Source yields pages of records. Returning an empty page ends the export.
type Source func(ctx context.Context) ([]registry.Record, error)

// SliceSource adapts an in-memory slice to a single-page Source.
func SliceSource(records []registry.Record) Source {
	done := false
	return func(context.Context) ([]registry.Record, error) {
		if done {
			return nil, nil
		}
		done = true
		return records, nil
	}
}

// Engine applies classification masking and serializes bundles.
type Engine struct {
	classes *classification.Registry
	vault   *vault.Vault
}

func NewEngine(classes *classification.Registry, v *vault.Vault) *Engine {
	return &Engine{classes: classes, vault: v}
}

// Export streams masked records from source to w and returns the manifest.
//
// Errors: CodeExport in strict mode when an unauthorized restricted field is
// encountered; the writer may have received partial output by then.
func (e *Engine) Export(ctx context.Context, w io.Writer, source Source, opts Options) (Manifest, error) {
	if opts.RequesterLevel == "" {
		opts.RequesterLevel = domain.ClassificationInternal
	}
	// A mistyped requester level must never read as authorization.
	if !opts.RequesterLevel.IsValid() {
		return Manifest{}, dErrors.Newf(dErrors.CodeValidation,
			"unknown requester level %q", opts.RequesterLevel)
	}
	var (
		count int
		err   error
	)
	switch opts.Format {
	case FormatJSON:
		count, err = e.exportJSON(ctx, w, source, opts)
	case FormatCSV:
		count, err = e.exportCSV(ctx, w, source, opts)
	default:
		return Manifest{}, dErrors.Newf(dErrors.CodeValidation, "unknown export format %q", opts.Format)
	}
	if err != nil {
		return Manifest{}, err
	}
	return Manifest{
		ExportedAt:   time.Now().UTC(),
		Requester:    opts.Requester,
		MaskingLevel: opts.RequesterLevel.String(),
		Format:       opts.Format,
		RecordCount:  count,
	}, nil
}

func (e *Engine) exportJSON(ctx context.Context, w io.Writer, source Source, opts Options) (int, error) {
	if _, err := io.WriteString(w, "["); err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	count := 0
	for {
		page, err := source(ctx)
		if err != nil {
			return count, err
		}
		if len(page) == 0 {
			break
		}
		for _, rec := range page {
			masked, err := e.MaskRecord(ctx, rec, opts)
			if err != nil {
				return count, err
			}
			if count > 0 {
				if _, err := io.WriteString(w, ","); err != nil {
					return count, err
				}
			}
			if err := enc.Encode(masked); err != nil {
				return count, fmt.Errorf("encode record: %w", err)
			}
			count++
		}
	}
	if _, err := io.WriteString(w, "]"); err != nil {
		return count, err
	}
	return count, nil
}

// MaskRecord returns the export view of one record: identifiers plus fields,
// masked per the requester's authorization.
func (e *Engine) MaskRecord(ctx context.Context, rec registry.Record, opts Options) (map[string]any, error) {
	out := map[string]any{
		"entity_type": rec.EntityType.String(),
		"id":          rec.ID,
	}
	if !rec.SubjectID.IsNil() {
		out["subject_id"] = rec.SubjectID.String()
	}
	for field, value := range rec.Fields {
		if opts.PortableOnly && !e.classes.Origin(rec.EntityType, field).Portable() {
			continue
		}
		masked, err := e.maskValue(ctx, rec.EntityType, field, value, opts)
		if err != nil {
			return nil, err
		}
		out[field] = masked
	}
	return out, nil
}

func (e *Engine) maskValue(ctx context.Context, t domain.EntityType, field string, value any, opts Options) (any, error) {
	level := e.classes.Classify(t, field)

	if level == domain.ClassificationRestricted {
		if !opts.RequesterLevel.AtLeast(domain.ClassificationRestricted) {
			if opts.Strict {
				return nil, dErrors.Newf(dErrors.CodeExport,
					"field %s.%s is restricted and requester is not authorized", t, field)
			}
			return RedactedPlaceholder, nil
		}
		return e.revealRestricted(ctx, value), nil
	}

	if e.classes.RequiresMask(level, opts.RequesterLevel) {
		return maskedPlaceholder, nil
	}
	return value, nil
}

// revealRestricted decrypts a vault value for an authorized reader. Anything
// that fails authentication is replaced, never surfaced raw.
func (e *Engine) revealRestricted(ctx context.Context, value any) any {
	ev, ok := value.(vault.EncryptedValue)
	if !ok {
		// Stored plaintext (e.g. pre-classification data); pass through.
		return value
	}
	if e.vault == nil {
		return RedactedPlaceholder
	}
	plaintext, err := e.vault.Decrypt(ctx, ev)
	if err != nil {
		return unrecoverablePlaceholder
	}
	return string(plaintext)
}
