package cert

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNoCertificate = errors.New("no PEM certificate found")
	ErrNotCA         = errors.New("certificate is not a CA")
)

// Summary describes a certificate without carrying its encoded form.
type Summary struct {
	Subject     string
	Issuer      string
	Fingerprint string
	NotBefore   time.Time
	NotAfter    time.Time
	IsCA        bool
}

// ParsePEM decodes the first CERTIFICATE block in text.
func ParsePEM(text string) (*x509.Certificate, error) {
	rest := []byte(text)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, ErrNoCertificate
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		return c, nil
	}
}

// Fingerprint returns the colon separated SHA-256 digest of the DER bytes.
func Fingerprint(c *x509.Certificate) string {
	sum := sha256.Sum256(c.Raw)
	hexSum := strings.ToUpper(hex.EncodeToString(sum[:]))

	parts := make([]string, 0, len(sum))
	for i := 0; i < len(hexSum); i += 2 {
		parts = append(parts, hexSum[i:i+2])
	}
	return strings.Join(parts, ":")
}

func Summarize(c *x509.Certificate) Summary {
	return Summary{
		Subject:     c.Subject.String(),
		Issuer:      c.Issuer.String(),
		Fingerprint: Fingerprint(c),
		NotBefore:   c.NotBefore,
		NotAfter:    c.NotAfter,
		IsCA:        c.BasicConstraintsValid && c.IsCA,
	}
}

func Inspect(text string) (Summary, error) {
	c, err := ParsePEM(text)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(c), nil
}

// CheckCA parses text and reports ErrNotCA when the certificate cannot sign.
func CheckCA(text string) (Summary, error) {
	s, err := Inspect(text)
	if err != nil {
		return Summary{}, err
	}
	if !s.IsCA {
		return s, fmt.Errorf("%w: %s", ErrNotCA, s.Subject)
	}
	return s, nil
}

// VerifyIssuedBy checks that leafPEM chains to caPEM for client authentication.
func VerifyIssuedBy(leafPEM, caPEM string) error {
	leaf, err := ParsePEM(leafPEM)
	if err != nil {
		return err
	}
	ca, err := ParsePEM(caPEM)
	if err != nil {
		return err
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca)
	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:       roots,
		CurrentTime: leaf.NotBefore.Add(time.Second),
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return fmt.Errorf("certificate %s was not issued by %s: %w", leaf.Subject, ca.Subject, err)
	}
	return nil
}
