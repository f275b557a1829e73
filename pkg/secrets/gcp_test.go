package secrets

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type mapSource map[string]string

func (m mapSource) GetSecret(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestFill(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	src := mapSource{
		"coinbase-main-access-key": "from-secret",
		"coinbase-main-secret-key": "s3cret",
	}

	creds := Credentials{AccessKey: "from-config"}
	Fill(context.Background(), src, "coinbase", "main", &creds, logger)

	assert.Equal(t, "from-config", creds.AccessKey, "configured values win")
	assert.Equal(t, "s3cret", creds.SecretKey)
	assert.Empty(t, creds.Passphrase)
}

func TestSecretName(t *testing.T) {
	assert.Equal(t, "binance-sub1-passphrase", SecretName("binance", "sub1", "passphrase"))
}
