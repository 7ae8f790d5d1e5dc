package storage

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCleanKeyRejectsTraversal(t *testing.T) {
	key, err := CleanKey("exports/1/abc.csv")
	require.NoError(t, err)
	require.Equal(t, "exports/1/abc.csv", key)

	key, err = CleanKey("/exports//1/abc.csv")
	require.NoError(t, err)
	require.Equal(t, "exports/1/abc.csv", key)

	for _, bad := range []string{"", "../etc/passwd", "exports/../../x", "a\\b", "/"} {
		_, err := CleanKey(bad)
		require.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestLocalRoundTrip(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "exports/1/a.csv")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Put(ctx, "exports/1/a.csv", strings.NewReader("section,summary\n"), "text/csv"))
	ok, err = store.Exists(ctx, "exports/1/a.csv")
	require.NoError(t, err)
	require.True(t, ok)

	rc, err := store.Open(ctx, "exports/1/a.csv")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "section,summary\n", string(body))

	require.NoError(t, store.Delete(ctx, "exports/1/a.csv"))
	require.NoError(t, store.Delete(ctx, "exports/1/a.csv"))
	_, err = store.Open(ctx, "exports/1/a.csv")
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestTokenSignerBindsKeyAndExpiry(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	signer, err := NewTokenSigner("0123456789abcdef0123", "https://pos.example.com/")
	require.NoError(t, err)
	signer.WithNow(func() time.Time { return now })

	link, err := signer.SignedURL(context.Background(), SignRequest{
		Key:      "exports/1/job.csv",
		Resource: "/finance/analytics/export/download/job",
		TTL:      15 * time.Minute,
	})
	require.NoError(t, err)
	parsed, err := url.Parse(link)
	require.NoError(t, err)
	require.Equal(t, "pos.example.com", parsed.Host)
	require.Equal(t, "/finance/analytics/export/download/job", parsed.Path)
	token := parsed.Query().Get("token")
	require.NotEmpty(t, token)

	require.NoError(t, signer.Verify(token, "exports/1/job.csv"))
	require.ErrorIs(t, signer.Verify(token, "exports/2/job.csv"), ErrInvalidToken)
	require.ErrorIs(t, signer.Verify(token+"x", "exports/1/job.csv"), ErrInvalidToken)

	now = now.Add(16 * time.Minute)
	require.ErrorIs(t, signer.Verify(token, "exports/1/job.csv"), ErrInvalidToken)

	other, err := NewTokenSigner("another-secret-of-len", "")
	require.NoError(t, err)
	require.ErrorIs(t, other.Verify(token, "exports/1/job.csv"), ErrInvalidToken)

	_, err = NewTokenSigner("short", "")
	require.Error(t, err)
}

func TestGCSSignerProducesV4URL(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	credentials := `{"client_email":"exports@pos.iam.gserviceaccount.com","private_key":` + quoteJSON(string(pemKey)) + `}`

	signer, err := NewGCSSigner("pos-exports", credentials, "", "")
	require.NoError(t, err)
	link, err := signer.SignedURL(context.Background(), SignRequest{Key: "exports/3/job.pdf", TTL: 10 * time.Minute})
	require.NoError(t, err)
	require.Contains(t, link, "pos-exports")
	require.Contains(t, link, "exports/3/job.pdf")
	require.Contains(t, link, "X-Goog-Signature=")
	require.Contains(t, link, "X-Goog-Expires=600")

	_, err = NewGCSSigner("pos-exports", "", "", "")
	require.Error(t, err)
}

func quoteJSON(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + replacer.Replace(s) + `"`
}
