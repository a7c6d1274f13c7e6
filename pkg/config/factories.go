package config

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/packetnet/internal/logger"
	"github.com/marmos91/packetnet/pkg/capture"
	"github.com/marmos91/packetnet/pkg/cryptor"
	"github.com/marmos91/packetnet/pkg/network"
	"github.com/marmos91/packetnet/pkg/transport/ws"
	"github.com/mitchellh/mapstructure"
)

// CreateCaptureStore creates a capture store based on configuration.
//
// The Type field selects the implementation; its type-specific map is decoded
// and passed to the store constructor.
//
// Supported types:
//   - "memory": process-local, lost on exit
//   - "badger": BadgerDB on local disk
//   - "s3": one compressed object per batch in Amazon S3 or a compatible service
func CreateCaptureStore(ctx context.Context, cfg *CaptureConfig) (capture.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return capture.NewMemoryStore(), nil
	case "badger":
		return createBadgerCaptureStore(cfg.Badger)
	case "s3":
		return createS3CaptureStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown capture store type: %q (supported: memory, badger, s3)", cfg.Type)
	}
}

func createBadgerCaptureStore(options map[string]any) (capture.Store, error) {
	var storeCfg capture.BadgerStoreConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger capture store config: %w", err)
	}

	if storeCfg.Path == "" && !storeCfg.InMemory {
		return nil, fmt.Errorf("badger capture store: path is required")
	}

	store, err := capture.NewBadgerStore(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger capture store: %w", err)
	}
	return store, nil
}

// s3StoreOptions is the s3 section of the capture configuration.
type s3StoreOptions struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	MaxRetries      int    `mapstructure:"max_retries"`
	SkipBucketCheck bool   `mapstructure:"skip_bucket_check"`
}

func createS3CaptureStore(ctx context.Context, options map[string]any) (capture.Store, error) {
	var storeCfg s3StoreOptions
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 capture store config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 capture store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 capture store: region is required")
	}

	client, err := newS3Client(ctx, storeCfg)
	if err != nil {
		return nil, err
	}

	if !storeCfg.SkipBucketCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if _, err := client.HeadBucket(checkCtx, &s3.HeadBucketInput{Bucket: aws.String(storeCfg.Bucket)}); err != nil {
			return nil, fmt.Errorf("S3 capture store: bucket %q is not accessible: %w", storeCfg.Bucket, err)
		}
	}

	store, err := capture.NewS3Store(capture.S3StoreConfig{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 capture store: %w", err)
	}

	logger.Info("S3 capture store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)

	return store, nil
}

// newS3Client builds an S3 client from the region, optional custom endpoint
// (MinIO, Localstack), optional static credentials and a retryer.
func newS3Client(ctx context.Context, opts s3StoreOptions) (*s3.Client, error) {
	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(opts.Region))

	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			// MinIO and Localstack need path-style addressing.
			o.UsePathStyle = true
		}
	}), nil
}

// CreateCryptor returns the cryptor factory selected by cfg.
func CreateCryptor(cfg *CryptoConfig) (cryptor.Factory, error) {
	var key []byte
	if cfg.Key != "" {
		var err error
		if key, err = hex.DecodeString(cfg.Key); err != nil {
			return nil, fmt.Errorf("crypto: key is not valid hex: %w", err)
		}
	}
	return cryptor.New(cfg.Type, key)
}

// CreateListener opens the server listener for the configured transport.
func CreateListener(cfg *ListenConfig) (net.Listener, error) {
	switch cfg.Transport {
	case TransportTCP:
		ln, err := net.Listen("tcp", cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Address, err)
		}
		return ln, nil
	case TransportWebSocket:
		return ws.Listen(cfg.Address, ws.ListenerConfig{
			Path:           cfg.Path,
			MaxMessageSize: cfg.MaxMessageSize,
		})
	default:
		return nil, fmt.Errorf("unknown transport: %q (supported: tcp, websocket)", cfg.Transport)
	}
}

// CreateDialer returns the client dialer for the configured transport. A nil
// dialer selects the network default TCP dialer.
func CreateDialer(cfg *ClientConfig) (network.Dialer, error) {
	switch cfg.Transport {
	case TransportTCP:
		return nil, nil
	case TransportWebSocket:
		return &ws.Dialer{Path: cfg.Path}, nil
	default:
		return nil, fmt.Errorf("unknown transport: %q (supported: tcp, websocket)", cfg.Transport)
	}
}
