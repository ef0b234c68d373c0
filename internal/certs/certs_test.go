package certs

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	t.Parallel()
	cert, err := Generate(time.Hour, "media.example.net", "10.0.0.7")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}
	if validity := x509Cert.NotAfter.Sub(x509Cert.NotBefore); validity != time.Hour {
		t.Errorf("validity: got %v, want 1h", validity)
	}
	if cert.Fingerprint != sha256.Sum256(cert.TLSCert.Certificate[0]) {
		t.Error("fingerprint mismatch")
	}
	if err := x509Cert.VerifyHostname("media.example.net"); err != nil {
		t.Errorf("extra DNS name: %v", err)
	}
	if err := x509Cert.VerifyHostname("10.0.0.7"); err != nil {
		t.Errorf("extra IP: %v", err)
	}
	if err := x509Cert.VerifyHostname("localhost"); err != nil {
		t.Errorf("localhost: %v", err)
	}
}

func TestGenerateDefaultValidity(t *testing.T) {
	t.Parallel()
	cert, err := Generate(0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if until := time.Until(cert.NotAfter); until <= 23*time.Hour || until > 24*time.Hour {
		t.Errorf("default validity: expires in %v", until)
	}
}

func TestParseFingerprint(t *testing.T) {
	t.Parallel()
	cert, err := Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	hexFP := hex.EncodeToString(cert.Fingerprint[:])
	var colon []string
	for i := 0; i < len(hexFP); i += 2 {
		colon = append(colon, strings.ToUpper(hexFP[i:i+2]))
	}

	for _, in := range []string{cert.FingerprintBase64(), hexFP, strings.Join(colon, ":")} {
		fp, err := ParseFingerprint(in)
		if err != nil {
			t.Errorf("ParseFingerprint(%q): %v", in, err)
			continue
		}
		if fp != cert.Fingerprint {
			t.Errorf("ParseFingerprint(%q): wrong value", in)
		}
	}

	for _, in := range []string{"", "zz", "abcd"} {
		if _, err := ParseFingerprint(in); err == nil {
			t.Errorf("ParseFingerprint(%q): expected error", in)
		}
	}
}

func TestPinnedClientConfig(t *testing.T) {
	t.Parallel()
	server, err := Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	other, err := Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		pin     [32]byte
		wantErr bool
	}{
		{"matching pin", server.Fingerprint, false},
		{"other pin", other.Fingerprint, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := handshake(t, server.ServerConfig(), PinnedClientConfig(tt.pin))
			if tt.wantErr {
				if !errors.Is(err, ErrFingerprintMismatch) {
					t.Errorf("got %v, want ErrFingerprintMismatch", err)
				}
				return
			}
			if err != nil {
				t.Errorf("handshake: %v", err)
			}
		})
	}
}

func handshake(t *testing.T, serverConf, clientConf *tls.Config) error {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverConf)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := ln.Accept()
		if err != nil {
			return
		}
		_ = c.(*tls.Conn).Handshake()
		c.Close()
	}()

	raw, err := net.DialTimeout("tcp", ln.Addr().String(), 5*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	cli := tls.Client(raw, clientConf)
	err = cli.Handshake()
	raw.Close()
	<-done
	return err
}
