package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Bundle is a finished export on disk plus the signed reference handed back
// to the subject.
type Bundle struct {
	ID       string
	Path     string
	Manifest Manifest
	// Token is the signed download reference. Subjects get this, never the
	// path.
	Token string
}

// defaultTokenTTL bounds how long a bundle reference stays usable.
const defaultTokenTTL = 14 * 24 * time.Hour

// BundleWriter materializes exports into a directory and signs references.
type BundleWriter struct {
	engine     *Engine
	dir        string
	signingKey []byte
}

func NewBundleWriter(engine *Engine, dir string, signingKey []byte) *BundleWriter {
	return &BundleWriter{engine: engine, dir: dir, signingKey: signingKey}
}

// Write streams the export into a new bundle file, writes the manifest next
// to it, and returns the signed reference.
func (b *BundleWriter) Write(ctx context.Context, source Source, opts Options) (Bundle, error) {
	id := uuid.NewString()
	path := filepath.Join(b.dir, fmt.Sprintf("bundle-%s.%s", id, opts.Format))

	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return Bundle{}, fmt.Errorf("create export dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return Bundle{}, fmt.Errorf("create bundle file: %w", err)
	}
	defer f.Close()

	manifest, err := b.engine.Export(ctx, f, source, opts)
	if err != nil {
		// Remove the partial file; the bundle either exists whole or not
		// at all.
		os.Remove(path)
		return Bundle{}, err
	}

	manifestPath := path + ".manifest.json"
	mf, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Bundle{}, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, mf, 0o600); err != nil {
		return Bundle{}, fmt.Errorf("write manifest: %w", err)
	}

	token, err := b.signReference(id, opts.Requester)
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{ID: id, Path: path, Manifest: manifest, Token: token}, nil
}

func (b *BundleWriter) signReference(bundleID, requester string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": requester,
		"bid": bundleID,
		"iat": now.Unix(),
		"exp": now.Add(defaultTokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(b.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign bundle reference: %w", err)
	}
	return signed, nil
}

// VerifyReference checks a bundle token and returns the bundle ID.
func (b *BundleWriter) VerifyReference(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return b.signingKey, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid bundle reference")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid bundle reference")
	}
	bid, _ := claims["bid"].(string)
	if bid == "" {
		return "", fmt.Errorf("invalid bundle reference")
	}
	return bid, nil
}
