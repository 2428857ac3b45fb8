package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/medicare-plus/cmd/mainconfig"
	"github.com/wolfman30/medicare-plus/internal/assistant"
	appconfig "github.com/wolfman30/medicare-plus/internal/config"
	"github.com/wolfman30/medicare-plus/internal/notify"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

// BuildBedrockAnswerer returns a Bedrock-backed answerer for cfg.BedrockModelID.
func BuildBedrockAnswerer(ctx context.Context, cfg *appconfig.Config) (*assistant.BedrockAnswerer, error) {
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
	}
	return assistant.NewBedrockAnswerer(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID), nil
}

// BuildEmailSender picks the outbound email provider. An SES client is only
// created when SES could actually be chosen.
func BuildEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (notify.EmailSender, error) {
	if logger == nil {
		logger = logging.Default()
	}
	senderCfg := notify.SenderConfig{
		Provider:       cfg.EmailProvider,
		SendGridAPIKey: cfg.SendGridAPIKey,
		FromEmail:      cfg.EmailFromAddress,
		FromName:       cfg.EmailFromName,
	}

	var ses notify.SESAPI
	if wantsSES(cfg) {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		ses = sesv2.NewFromConfig(awsCfg)
	}

	sender, err := notify.NewEmailSender(senderCfg, ses, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: email sender: %w", err)
	}
	return sender, nil
}

func wantsSES(cfg *appconfig.Config) bool {
	if strings.TrimSpace(cfg.EmailFromAddress) == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(cfg.EmailProvider)) {
	case notify.ProviderSES:
		return true
	case notify.ProviderAuto, "":
		return strings.TrimSpace(cfg.SendGridAPIKey) == ""
	default:
		return false
	}
}
