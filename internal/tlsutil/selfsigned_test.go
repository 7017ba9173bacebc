package tlsutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutPathsGeneratesSelfSignedCert(t *testing.T) {
	cfg, fingerprint, err := Load("", "", "voice.example.com")
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	assert.NotEmpty(t, fingerprint)
	assert.Equal(t, "voice.example.com", cfg.Certificates[0].Leaf.Subject.CommonName)
}

func TestLoadWithMissingPathsReturnsError(t *testing.T) {
	_, _, err := Load("missing-cert.pem", "missing-key.pem", "")
	assert.Error(t, err)
}
