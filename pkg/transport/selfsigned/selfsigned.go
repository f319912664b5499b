// Package selfsigned issues an ephemeral self-signed TLS certificate
// for a transport.Transport's Listen/Dial calls. The certificate only
// satisfies the transport's handshake and does not identify the peer;
// the hello exchange in pkg/transfer does not verify hello signatures
// either, so neither layer authenticates the peer.
package selfsigned

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"time"

	"github.com/duskvault/duskvault/pkg/apperr"
)

// Config generates a fresh RSA-2048 self-signed certificate valid for
// one year and returns a tls.Config presenting it, with verification
// disabled on the dial side (InsecureSkipVerify): the certificate
// exists to satisfy the TLS handshake the transport requires, not to
// authenticate the peer.
func Config(alpn string) (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, apperr.New(apperr.KindIoFailed, "selfsigned: generate key", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"duskvault"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		DNSNames:     []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, apperr.New(apperr.KindIoFailed, "selfsigned: create certificate", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		}},
		NextProtos:         []string{alpn},
		InsecureSkipVerify: true,
	}, nil
}
