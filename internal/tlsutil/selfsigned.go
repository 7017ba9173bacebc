// Package tlsutil provides the TLS configuration the framed and
// datagram transports terminate: either the operator-supplied
// certificate pair, or (for local development, when none is
// configured) a self-signed certificate generated at startup.
//
// Generation logic is adapted from the teacher's generateTLSConfig
// (server/tls.go): an ECDSA P-256 self-signed cert valid for one day,
// fingerprinted so an operator can pin it on a client that skips CA
// verification. The datagram transport runs over QUIC, which mandates
// TLS regardless of the framed transport's enable_tls setting (spec
// §6), so this helper backs both when no cert/key path is configured.
package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// selfSignedValidity mirrors the teacher's one-day default; voicecore
// has no config knob for it since unlike the teacher it is not
// expected to be the durable identity of a long-lived server — an
// operator who needs a stable identity supplies tls_cert_path/
// tls_key_path instead.
const selfSignedValidity = 24 * time.Hour

// Load returns a *tls.Config from certPath/keyPath if both are
// non-empty, otherwise generates a self-signed certificate for
// hostname (and "localhost") and returns its SHA-256 fingerprint so
// the caller can log it for operators pinning a dev client.
func Load(certPath, keyPath, hostname string) (cfg *tls.Config, fingerprint string, err error) {
	if certPath != "" && keyPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, "", fmt.Errorf("tlsutil: load cert pair: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}}, "", nil
	}
	return selfSigned(hostname)
}

func selfSigned(hostname string) (*tls.Config, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("tlsutil: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, "", fmt.Errorf("tlsutil: generate serial: %w", err)
	}

	cn := "voicecore"
	if hostname != "" {
		cn = hostname
	}
	sans := []string{"localhost"}
	if hostname != "" && hostname != "localhost" {
		sans = append(sans, hostname)
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(selfSignedValidity),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              sans,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, "", fmt.Errorf("tlsutil: create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, "", fmt.Errorf("tlsutil: parse certificate: %w", err)
	}

	fp := sha256.Sum256(certDER)
	tlsCert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        cert,
	}
	return &tls.Config{Certificates: []tls.Certificate{tlsCert}}, hex.EncodeToString(fp[:]), nil
}
