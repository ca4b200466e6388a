package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// BedrockSigner signs relay requests for Bedrock-hosted Anthropic models
// with SigV4. Credentials come from the default AWS chain (env, shared
// config, instance role).
type BedrockSigner struct {
	region string
	creds  aws.CredentialsProvider
	signer *v4.Signer
}

// NewBedrockSigner loads the default AWS credential chain for the region.
// A signer is always returned; IsConfigured reports whether credentials
// actually resolved.
func NewBedrockSigner(ctx context.Context, region string) (*BedrockSigner, error) {
	if region == "" {
		return &BedrockSigner{}, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockSigner{
		region: region,
		creds:  cfg.Credentials,
		signer: v4.NewSigner(),
	}, nil
}

// IsConfigured reports whether this signer can produce signatures.
func (b *BedrockSigner) IsConfigured() bool {
	return b != nil && b.signer != nil && b.creds != nil
}

// BuildTargetURL maps a model id to its Bedrock invoke endpoint.
func (b *BedrockSigner) BuildTargetURL(modelID string) string {
	return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/invoke",
		b.region, url.PathEscape(modelID))
}

// SignRequest signs the request in place. The body must be the exact bytes
// the request will send; SigV4 covers the payload hash.
func (b *BedrockSigner) SignRequest(ctx context.Context, req *http.Request, body []byte) error {
	if !b.IsConfigured() {
		return fmt.Errorf("bedrock signer not configured")
	}
	creds, err := b.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("retrieve aws credentials: %w", err)
	}
	sum := sha256.Sum256(body)
	return b.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]),
		"bedrock", b.region, time.Now())
}
