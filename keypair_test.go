package goepp

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"
)

// writeTestKeyPair writes a PEM certificate and private key to a temporary
// file. A non-empty passphrase encrypts the key with RFC1423.
func writeTestKeyPair(t *testing.T, passphrase string) string {
	t.Helper()

	cert, err := generateTestCertificate()
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	require.NoError(t, err)

	keyBlock := &pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}
	if passphrase != "" {
		//nolint:staticcheck
		keyBlock, err = x509.EncryptPEMBlock(rand.Reader, "PRIVATE KEY", keyDER, []byte(passphrase), x509.PEMCipherAES256)
		require.NoError(t, err)
	}

	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
	data = append(data, pem.EncodeToMemory(keyBlock)...)

	path := filepath.Join(t.TempDir(), "client.pem")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// testChain is a client certificate issued by a throwaway CA.
type testChain struct {
	key  *ecdsa.PrivateKey
	leaf *x509.Certificate
	ca   *x509.Certificate
}

func newTestChain(t *testing.T) *testChain {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Registry CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	ca, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "registrar"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, ca, &key.PublicKey, caKey)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	return &testChain{key: key, leaf: leaf, ca: ca}
}

// bundle encodes the chain as a PKCS#12 bundle protected by passphrase.
func (c *testChain) bundle(t *testing.T, passphrase string) []byte {
	t.Helper()

	data, err := pkcs12.Modern.Encode(c.key, c.leaf, []*x509.Certificate{c.ca}, passphrase)
	require.NoError(t, err)
	return data
}

func writeTestFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadKeyPair(t *testing.T) {
	t.Run("plain PEM", func(t *testing.T) {
		cert, err := LoadKeyPair(writeTestKeyPair(t, ""), "")
		require.NoError(t, err)
		assert.Len(t, cert.Certificate, 1)
		assert.NotNil(t, cert.PrivateKey)
	})

	t.Run("encrypted PEM", func(t *testing.T) {
		path := writeTestKeyPair(t, "hunter2")

		cert, err := LoadKeyPair(path, "hunter2")
		require.NoError(t, err)
		assert.NotNil(t, cert.PrivateKey)
	})

	t.Run("encrypted PEM without passphrase", func(t *testing.T) {
		_, err := LoadKeyPair(writeTestKeyPair(t, "hunter2"), "")
		assert.ErrorIs(t, err, ErrInvalidKeyPair)
	})

	t.Run("encrypted PEM with wrong passphrase", func(t *testing.T) {
		_, err := LoadKeyPair(writeTestKeyPair(t, "hunter2"), "wrong")
		assert.ErrorIs(t, err, ErrInvalidKeyPair)
	})

	t.Run("PKCS8 encrypted keys are rejected", func(t *testing.T) {
		data := pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: []byte{1, 2, 3}})
		_, err := LoadKeyPair(writeTestFile(t, "key.pem", data), "x")
		assert.ErrorIs(t, err, ErrInvalidKeyPair)
	})

	t.Run("certificate only", func(t *testing.T) {
		cert, err := generateTestCertificate()
		require.NoError(t, err)

		data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
		_, err = LoadKeyPair(writeTestFile(t, "cert.pem", data), "")
		assert.ErrorIs(t, err, ErrInvalidKeyPair)
	})

	t.Run("key only", func(t *testing.T) {
		cert, err := generateTestCertificate()
		require.NoError(t, err)
		keyDER, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
		require.NoError(t, err)

		data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
		_, err = LoadKeyPair(writeTestFile(t, "key.pem", data), "")
		assert.ErrorIs(t, err, ErrInvalidKeyPair)
	})

	t.Run("PKCS12 bundle", func(t *testing.T) {
		chain := newTestChain(t)
		path := writeTestFile(t, "client.p12", chain.bundle(t, "keypass"))

		cert, err := LoadKeyPair(path, "keypass")
		require.NoError(t, err)

		require.Len(t, cert.Certificate, 2)
		assert.Equal(t, chain.leaf.Raw, cert.Certificate[0])
		assert.Equal(t, chain.ca.Raw, cert.Certificate[1])
		require.NotNil(t, cert.Leaf)
		assert.Equal(t, "registrar", cert.Leaf.Subject.CommonName)

		key, ok := cert.PrivateKey.(*ecdsa.PrivateKey)
		require.True(t, ok)
		assert.True(t, key.Equal(chain.key))
	})

	t.Run("PKCS12 detected without extension", func(t *testing.T) {
		chain := newTestChain(t)
		path := writeTestFile(t, "client.bundle", chain.bundle(t, "keypass"))

		cert, err := LoadKeyPair(path, "keypass")
		require.NoError(t, err)
		assert.Len(t, cert.Certificate, 2)
	})

	t.Run("PKCS12 wrong passphrase", func(t *testing.T) {
		chain := newTestChain(t)
		path := writeTestFile(t, "client.pfx", chain.bundle(t, "keypass"))

		_, err := LoadKeyPair(path, "wrong")
		assert.ErrorIs(t, err, ErrInvalidKeyPair)
	})

	t.Run("invalid PKCS12", func(t *testing.T) {
		_, err := LoadKeyPair(writeTestFile(t, "client.p12", []byte("not a pkcs12 bundle")), "secret")
		assert.ErrorIs(t, err, ErrInvalidKeyPair)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadKeyPair(filepath.Join(t.TempDir(), "missing.pem"), "")
		assert.ErrorIs(t, err, ErrInvalidKeyPair)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestCredentials(t *testing.T) {
	t.Run("validate", func(t *testing.T) {
		assert.NoError(t, Credentials{LoginID: "registrar", Password: "secret"}.Validate())
		assert.ErrorIs(t, Credentials{Password: "secret"}.Validate(), ErrInvalidConfig)
		assert.ErrorIs(t, Credentials{LoginID: "registrar"}.Validate(), ErrInvalidConfig)
	})

	t.Run("string hides secrets", func(t *testing.T) {
		c := Credentials{LoginID: "registrar", Password: "topsecret", CertPath: "/etc/epp/client.pem", CertPassphrase: "unlock"}
		s := c.String()
		assert.Contains(t, s, "registrar")
		assert.Contains(t, s, "/etc/epp/client.pem")
		assert.NotContains(t, s, "topsecret")
		assert.NotContains(t, s, "unlock")
	})
}
