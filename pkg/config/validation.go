package config

import (
	"encoding/hex"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/packetnet/pkg/cryptor"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization happens in ApplyDefaults; validation accepts both
// cases.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := cfg.Network.Validate(); err != nil {
		return fmt.Errorf("network: %w", err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs validation that struct tags cannot express.
func validateCustomRules(cfg *Config) error {
	if cfg.Crypto.Type == "chacha20" {
		if cfg.Crypto.Key == "" {
			return fmt.Errorf("crypto: key is required for chacha20")
		}
		key, err := hex.DecodeString(cfg.Crypto.Key)
		if err != nil {
			return fmt.Errorf("crypto: key is not valid hex: %w", err)
		}
		if len(key) != cryptor.KeySize {
			return fmt.Errorf("crypto: chacha20 key must be %d bytes, got %d", cryptor.KeySize, len(key))
		}
	}

	if cfg.Listen.Transport == TransportWebSocket && cfg.Listen.Path == "" {
		return fmt.Errorf("listen: path is required for the websocket transport")
	}

	if cfg.Capture.Enabled && cfg.Capture.Type == "s3" {
		if bucket, _ := cfg.Capture.S3["bucket"].(string); bucket == "" {
			return fmt.Errorf("capture: s3.bucket is required")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
