package goepp

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"software.sslmate.com/src/go-pkcs12"
)

// Credentials are the registrar credentials for one session.
type Credentials struct {
	// LoginID is the client identifier sent in <clID>.
	LoginID string

	// Password is the password sent in <pw>.
	Password string

	// CertPath is an optional client key pair used for TLS client authentication:
	// a PEM file holding the certificate chain and private key, or a PKCS#12
	// bundle (.p12, .pfx).
	CertPath string

	// CertPassphrase decrypts the private key in CertPath.
	CertPassphrase string
}

// Validate checks that the login identifier and password are present.
func (c Credentials) Validate() error {
	if c.LoginID == "" {
		return fmt.Errorf("%w: login identifier is required", ErrInvalidConfig)
	}
	if c.Password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidConfig)
	}
	return nil
}

// String hides the password and passphrase.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{LoginID:%s CertPath:%s}", c.LoginID, c.CertPath)
}

// LoadKeyPair loads a client certificate and private key from path.
// PEM files may contain the key in PKCS#1, PKCS#8 or SEC1 form; legacy
// RFC1423-encrypted keys are decrypted with passphrase. PKCS#12 bundles are
// detected by extension or by the absence of PEM data.
func LoadKeyPair(path, passphrase string) (*tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKeyPair, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".p12" || ext == ".pfx" || !bytes.Contains(data, []byte("-----BEGIN")) {
		return parsePKCS12(data, passphrase)
	}
	return parsePEMKeyPair(data, passphrase)
}

func parsePEMKeyPair(data []byte, passphrase string) (*tls.Certificate, error) {
	var certPEM, keyPEM []byte

	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}

		switch {
		case block.Type == "CERTIFICATE":
			certPEM = append(certPEM, pem.EncodeToMemory(block)...)
		case block.Type == "ENCRYPTED PRIVATE KEY":
			return nil, fmt.Errorf("%w: encrypted PKCS#8 keys are not supported, use a PKCS#12 bundle", ErrInvalidKeyPair)
		case strings.HasSuffix(block.Type, "PRIVATE KEY"):
			if keyPEM != nil {
				return nil, fmt.Errorf("%w: more than one private key", ErrInvalidKeyPair)
			}
			//nolint:staticcheck // RFC1423 encryption is what registrar tooling still emits.
			if x509.IsEncryptedPEMBlock(block) {
				if passphrase == "" {
					return nil, fmt.Errorf("%w: private key is encrypted and no passphrase given", ErrInvalidKeyPair)
				}
				//nolint:staticcheck
				der, err := x509.DecryptPEMBlock(block, []byte(passphrase))
				if err != nil {
					return nil, fmt.Errorf("%w: decrypt private key: %w", ErrInvalidKeyPair, err)
				}
				block = &pem.Block{Type: block.Type, Bytes: der}
			}
			keyPEM = pem.EncodeToMemory(block)
		}
	}

	if certPEM == nil {
		return nil, fmt.Errorf("%w: no certificate found", ErrInvalidKeyPair)
	}
	if keyPEM == nil {
		return nil, fmt.Errorf("%w: no private key found", ErrInvalidKeyPair)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKeyPair, err)
	}
	return &cert, nil
}

func parsePKCS12(data []byte, passphrase string) (*tls.Certificate, error) {
	key, leaf, caCerts, err := pkcs12.DecodeChain(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: pkcs12: %w", ErrInvalidKeyPair, err)
	}

	cert := &tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	for _, ca := range caCerts {
		cert.Certificate = append(cert.Certificate, ca.Raw)
	}
	return cert, nil
}
