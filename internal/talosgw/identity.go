package talosgw

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// ed25519OID is the DER encoding of OID 1.3.101.112, the Ed25519
// algorithm identifier a PKCS#8 Ed25519 key must carry.
var ed25519OID = []byte{0x2B, 0x65, 0x70}

// decodeMaybeBase64 returns pem unchanged if it already looks like PEM
// (Talos configs sometimes embed client identity material as raw PEM
// rather than the usual base64-wrapped form), otherwise it
// base64-decodes it.
func decodeMaybeBase64(s string) ([]byte, error) {
	if bytes.Contains([]byte(s), []byte("-----BEGIN")) {
		return []byte(s), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	return decoded, nil
}

// clientTLSConfig builds a tls.Config presenting the context's client
// certificate for mTLS to the upstream Talos control plane.
func clientTLSConfig(ctx TalosContext) (*tls.Config, error) {
	caPEM, err := decodeMaybeBase64(ctx.CA)
	if err != nil {
		return nil, fmt.Errorf("decode CA: %w", err)
	}
	crtPEM, err := decodeMaybeBase64(ctx.Crt)
	if err != nil {
		return nil, fmt.Errorf("decode client cert: %w", err)
	}
	keyPEM, err := decodeMaybeBase64(ctx.Key)
	if err != nil {
		return nil, fmt.Errorf("decode client key: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no CA certificates found in context")
	}

	cert, err := parseClientCertificate(crtPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// parseClientCertificate builds a tls.Certificate from a PEM
// certificate chain and a PEM private key. Unlike tls.X509KeyPair, the
// key block's PEM label is not trusted: Talos's Ed25519 keys are
// PEM-wrapped as "ED25519 PRIVATE KEY" (an OpenSSL convention) rather
// than the standard "PRIVATE KEY" label tls.X509KeyPair looks for, but
// the DER payload underneath is ordinary PKCS#8.
func parseClientCertificate(certPEM, keyPEM []byte) (tls.Certificate, error) {
	var cert tls.Certificate

	rest := certPEM
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			cert.Certificate = append(cert.Certificate, block.Bytes)
		}
	}
	if len(cert.Certificate) == 0 {
		return tls.Certificate{}, fmt.Errorf("no certificates found in client cert PEM")
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return tls.Certificate{}, fmt.Errorf("no PEM block found in client key")
	}

	if keyBlock.Type == "ED25519 PRIVATE KEY" {
		if err := validateEd25519PKCS8(keyBlock.Bytes); err != nil {
			return tls.Certificate{}, err
		}
	}

	key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse client key as PKCS#8: %w", err)
	}
	cert.PrivateKey = key

	return cert, nil
}

// validateEd25519PKCS8 performs the structural sanity check Talos's
// own OpenSSL-labeled Ed25519 keys need before being handed to the TLS
// stack as PKCS#8: a leading SEQUENCE tag and the Ed25519 OID
// somewhere in the DER.
func validateEd25519PKCS8(der []byte) error {
	if len(der) < 16 {
		return fmt.Errorf("ed25519 key too short to be valid PKCS#8")
	}
	if der[0] != 0x30 {
		return fmt.Errorf("ed25519 key does not start with a SEQUENCE tag (got 0x%02x)", der[0])
	}
	if !bytes.Contains(der, ed25519OID) {
		return fmt.Errorf("ed25519 key missing Ed25519 OID (1.3.101.112)")
	}
	return nil
}
