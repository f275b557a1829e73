// Package secrets resolves venue credentials from GCP Secret Manager.
package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// Source returns the latest value of a named secret.
type Source interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

type GCPSecretManager struct {
	client    *secretmanager.Client
	projectID string
	logger    *logrus.Logger
}

// NewGCPSecretManager uses application default credentials unless
// credentialsFile is set.
func NewGCPSecretManager(ctx context.Context, projectID, credentialsFile string, logger *logrus.Logger) (*GCPSecretManager, error) {
	if logger == nil {
		logger = logrus.New()
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secretmanager client: %w", err)
	}

	return &GCPSecretManager{
		client:    client,
		projectID: projectID,
		logger:    logger,
	}, nil
}

func (g *GCPSecretManager) GetSecret(ctx context.Context, secretName string) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", g.projectID, secretName)

	result, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", secretName, err)
	}
	return strings.TrimSpace(string(result.Payload.Data)), nil
}

func (g *GCPSecretManager) Close() error {
	return g.client.Close()
}

// Credentials are the secret fields of one venue account.
type Credentials struct {
	AccessKey  string
	SecretKey  string
	Passphrase string
}

// SecretName is "<platform>-<account>-<field>", e.g. "coinbase-main-secret-key".
func SecretName(platform, account, field string) string {
	return fmt.Sprintf("%s-%s-%s", platform, account, field)
}

// Fill sets every empty field of creds from src. Missing secrets are not an
// error: the venue adapter reports absent credentials as PARAM_MISS.
func Fill(ctx context.Context, src Source, platform, account string, creds *Credentials, logger *logrus.Logger) {
	if logger == nil {
		logger = logrus.New()
	}
	fields := []struct {
		name string
		dst  *string
	}{
		{"access-key", &creds.AccessKey},
		{"secret-key", &creds.SecretKey},
		{"passphrase", &creds.Passphrase},
	}
	for _, f := range fields {
		if *f.dst != "" {
			continue
		}
		name := SecretName(platform, account, f.name)
		v, err := src.GetSecret(ctx, name)
		if err != nil {
			logger.WithError(err).WithField("secret", name).Debug("Secret not available")
			continue
		}
		*f.dst = v
	}
}
