package export

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"custodia/internal/classification"
	"custodia/internal/registry"
	"custodia/internal/vault"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domainerrors"
)

// =============================================================================
// Export Engine Test Suite
// =============================================================================
// Justification for unit tests: masking decisions are the privacy boundary of
// the whole system; a wrong branch leaks restricted plaintext into a bundle.

type ExportEngineSuite struct {
	suite.Suite
	classes *classification.Registry
	vault   *vault.Vault
	engine  *Engine
}

func TestExportEngineSuite(t *testing.T) {
	suite.Run(t, new(ExportEngineSuite))
}

func (s *ExportEngineSuite) SetupTest() {
	s.classes = classification.NewRegistry()
	s.classes.Set(classification.FieldClassification{
		EntityType: "users", Field: "email", Level: domain.ClassificationRestricted,
		Origin: domain.OriginSelfProvided,
	})
	s.classes.Set(classification.FieldClassification{
		EntityType: "users", Field: "salary", Level: domain.ClassificationConfidential,
		Origin: domain.OriginDerived,
	})
	s.classes.Set(classification.FieldClassification{
		EntityType: "users", Field: "name", Level: domain.ClassificationPublic,
		Origin: domain.OriginSelfProvided,
	})

	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	s.Require().NoError(err)
	s.vault, err = vault.New(base64.StdEncoding.EncodeToString(raw), vault.NewMemoryKeyring())
	s.Require().NoError(err)

	s.engine = NewEngine(s.classes, s.vault)
}

func (s *ExportEngineSuite) userRecord() registry.Record {
	ctx := context.Background()
	email, err := s.vault.Encrypt(ctx, []byte("user@example.com"))
	s.Require().NoError(err)
	return registry.Record{
		EntityType: "users",
		ID:         "u1",
		SubjectID:  domain.NewSubjectID(),
		Fields: map[string]any{
			"email":  email,
			"salary": 90000,
			"name":   "Jordan",
		},
	}
}

func (s *ExportEngineSuite) export(rec registry.Record, opts Options) (Manifest, []map[string]any) {
	var buf bytes.Buffer
	opts.Format = FormatJSON
	manifest, err := s.engine.Export(context.Background(), &buf, SliceSource([]registry.Record{rec}), opts)
	s.Require().NoError(err)

	var out []map[string]any
	s.Require().NoError(json.Unmarshal(buf.Bytes(), &out))
	return manifest, out
}

func (s *ExportEngineSuite) TestMasking() {
	rec := s.userRecord()

	s.Run("internal reader sees placeholders", func() {
		manifest, out := s.export(rec, Options{RequesterLevel: domain.ClassificationInternal})
		s.Equal(1, manifest.RecordCount)
		s.Require().Len(out, 1)
		s.Equal(RedactedPlaceholder, out[0]["email"])
		s.Equal("[MASKED]", out[0]["salary"])
		s.Equal("Jordan", out[0]["name"])
	})

	s.Run("confidential reader sees salary but not email", func() {
		_, out := s.export(rec, Options{RequesterLevel: domain.ClassificationConfidential})
		s.Equal(RedactedPlaceholder, out[0]["email"])
		s.EqualValues(90000, out[0]["salary"])
	})

	s.Run("restricted reader sees decrypted plaintext", func() {
		_, out := s.export(rec, Options{RequesterLevel: domain.ClassificationRestricted})
		s.Equal("user@example.com", out[0]["email"])
	})

	s.Run("tampered ciphertext exports as unrecoverable", func() {
		broken := s.userRecord()
		ev := broken.Fields["email"].(vault.EncryptedValue)
		ev.Ciphertext[0] ^= 0xff
		broken.Fields["email"] = ev

		_, out := s.export(broken, Options{RequesterLevel: domain.ClassificationRestricted})
		s.Equal("[UNRECOVERABLE]", out[0]["email"])
	})
}

func (s *ExportEngineSuite) TestUnknownRequesterLevelRejected() {
	rec := s.userRecord()

	// A mistyped requester level must fail the export, not read as clearance
	// for restricted plaintext.
	var buf bytes.Buffer
	_, err := s.engine.Export(context.Background(), &buf, SliceSource([]registry.Record{rec}), Options{
		Format:         FormatJSON,
		RequesterLevel: "intrenal",
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.NotContains(buf.String(), "user@example.com")
}

func (s *ExportEngineSuite) TestStrictMode() {
	rec := s.userRecord()

	var buf bytes.Buffer
	_, err := s.engine.Export(context.Background(), &buf, SliceSource([]registry.Record{rec}), Options{
		Format:         FormatJSON,
		RequesterLevel: domain.ClassificationInternal,
		Strict:         true,
	})
	s.Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeExport))
}

func (s *ExportEngineSuite) TestPortableOnly() {
	rec := s.userRecord()

	_, out := s.export(rec, Options{
		RequesterLevel: domain.ClassificationRestricted,
		PortableOnly:   true,
	})
	s.Require().Len(out, 1)
	s.Contains(out[0], "name")
	s.Contains(out[0], "email")
	// Derived values stay out of portability bundles.
	s.NotContains(out[0], "salary")
}

func (s *ExportEngineSuite) TestCSVExport() {
	rec := s.userRecord()

	var buf bytes.Buffer
	manifest, err := s.engine.Export(context.Background(), &buf, SliceSource([]registry.Record{rec}), Options{
		Format:         FormatCSV,
		RequesterLevel: domain.ClassificationInternal,
	})
	s.Require().NoError(err)
	s.Equal(1, manifest.RecordCount)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	s.Require().Len(lines, 2)
	// Header columns are sorted and flattened.
	s.Equal("email,entity_type,id,name,salary,subject_id", lines[0])
	s.Contains(lines[1], RedactedPlaceholder)
	s.NotContains(buf.String(), "user@example.com")
}

func (s *ExportEngineSuite) TestCSVMixedEntityTypes() {
	user := s.userRecord()
	order := registry.Record{
		EntityType: "orders",
		ID:         "o1",
		SubjectID:  user.SubjectID,
		Fields:     map[string]any{"total": 42},
	}

	var buf bytes.Buffer
	manifest, err := s.engine.Export(context.Background(), &buf, SliceSource([]registry.Record{user, order}), Options{
		Format:         FormatCSV,
		RequesterLevel: domain.ClassificationInternal,
	})
	s.Require().NoError(err)
	s.Equal(2, manifest.RecordCount)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	s.Require().Len(lines, 3)
	// The header is the union of every record's columns, so a field the
	// first record lacks is not silently dropped.
	s.Equal("email,entity_type,id,name,salary,subject_id,total", lines[0])
	s.Contains(lines[2], "42")
}

func (s *ExportEngineSuite) TestEmptyExport() {
	var buf bytes.Buffer
	manifest, err := s.engine.Export(context.Background(), &buf, SliceSource(nil), Options{
		Format: FormatJSON,
	})
	s.Require().NoError(err)
	s.Equal(0, manifest.RecordCount)

	var out []map[string]any
	s.Require().NoError(json.Unmarshal(buf.Bytes(), &out))
	s.Empty(out)
}

func (s *ExportEngineSuite) TestParseFormat() {
	_, err := ParseFormat("xml")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	f, err := ParseFormat("csv")
	s.NoError(err)
	s.Equal(FormatCSV, f)
}
