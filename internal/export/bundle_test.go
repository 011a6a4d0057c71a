package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"custodia/internal/classification"
	"custodia/internal/registry"
	"custodia/pkg/domain"
)

func TestBundleWriter(t *testing.T) {
	dir := t.TempDir()
	writer := NewBundleWriter(NewEngine(classification.NewRegistry(), nil), dir, []byte("signing-key"))

	records := []registry.Record{{
		EntityType: "users",
		ID:         "u1",
		SubjectID:  domain.NewSubjectID(),
		Fields:     map[string]any{"name": "Jordan"},
	}}

	bundle, err := writer.Write(context.Background(), SliceSource(records), Options{
		Format:    FormatJSON,
		Requester: "subject-1",
	})
	require.NoError(t, err)
	require.Equal(t, 1, bundle.Manifest.RecordCount)

	t.Run("bundle and manifest land on disk with tight permissions", func(t *testing.T) {
		info, err := os.Stat(bundle.Path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		raw, err := os.ReadFile(bundle.Path + ".manifest.json")
		require.NoError(t, err)
		var manifest Manifest
		require.NoError(t, json.Unmarshal(raw, &manifest))
		require.Equal(t, "subject-1", manifest.Requester)
	})

	t.Run("reference verifies and carries the bundle id", func(t *testing.T) {
		id, err := writer.VerifyReference(bundle.Token)
		require.NoError(t, err)
		require.Equal(t, bundle.ID, id)
	})

	t.Run("reference signed with another key is rejected", func(t *testing.T) {
		other := NewBundleWriter(NewEngine(classification.NewRegistry(), nil), dir, []byte("other-key"))
		_, err := other.VerifyReference(bundle.Token)
		require.Error(t, err)
	})

	t.Run("failed export leaves no partial file", func(t *testing.T) {
		classes := classification.NewRegistry()
		classes.Set(classification.FieldClassification{
			EntityType: "users", Field: "name", Level: domain.ClassificationRestricted,
		})
		strict := NewBundleWriter(NewEngine(classes, nil), dir, []byte("signing-key"))

		_, err := strict.Write(context.Background(), SliceSource(records), Options{
			Format: FormatJSON,
			Strict: true,
		})
		require.Error(t, err)

		entries, err := filepath.Glob(filepath.Join(dir, "bundle-*"))
		require.NoError(t, err)
		// Only the first bundle and its manifest remain.
		require.Len(t, entries, 2)
	})
}
