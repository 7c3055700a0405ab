package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// Authority is a throwaway signing CA. It stands in for the identity
// service's RadSec CA in tests and local development.
type Authority struct {
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
}

func newSerial() (*big.Int, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serialNumber, nil
}

func NewAuthority(commonName string) (*Authority, error) {
	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA key: %w", err)
	}

	serialNumber, err := newSerial()
	if err != nil {
		return nil, err
	}

	caTemplate := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"RadSec Test"},
			CommonName:   commonName,
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}

	caCertBytes, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	caCert, err := x509.ParseCertificate(caCertBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	return &Authority{Cert: caCert, Key: caKey}, nil
}

func (a *Authority) CertificatePEM() string {
	return EncodePEM(a.Cert)
}

// SignCSR issues a client and server auth certificate for the request in
// csrPEM, copying its subject and DNS names.
func (a *Authority) SignCSR(csrPEM string, validity time.Duration) (string, error) {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return "", fmt.Errorf("failed to decode certificate request PEM")
	}

	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate request: %w", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return "", fmt.Errorf("invalid certificate request signature: %w", err)
	}

	serialNumber, err := newSerial()
	if err != nil {
		return "", err
	}

	template := &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               csr.Subject,
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              csr.DNSNames,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, a.Cert, csr.PublicKey, a.Key)
	if err != nil {
		return "", fmt.Errorf("failed to create certificate: %w", err)
	}

	c, err := x509.ParseCertificate(der)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}
	return EncodePEM(c), nil
}

// NewCSR creates a key and a PEM certificate request the way a device does:
// the common name is the device MAC and the hostname is the only DNS SAN.
func NewCSR(commonName string, subject pkix.Name, dnsName string) (string, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}

	subject.CommonName = commonName
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  subject,
		DNSNames: []string{dnsName},
	}, key)
	if err != nil {
		return "", fmt.Errorf("failed to create certificate request: %w", err)
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})), nil
}

func EncodePEM(c *x509.Certificate) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: c.Raw,
	}))
}
