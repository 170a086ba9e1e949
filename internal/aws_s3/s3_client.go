package aws_s3

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/IliaW/cphi-crawler/config"
	"github.com/IliaW/cphi-crawler/internal"
	"github.com/IliaW/cphi-crawler/internal/model"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	jsoniter "github.com/json-iterator/go"
	"github.com/rotisserie/eris"
)

const writeTimeout = 30 * time.Second

type BucketClient interface {
	WriteOutcome(*model.CrawlOutcome) (string, error)
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3BucketClient struct {
	client putObjectAPI
	cfg    *config.Config
}

func NewS3BucketClient(cfg *config.Config) *S3BucketClient {
	slog.Info("connecting to s3...")

	c, err := connect(cfg)
	if err != nil {
		slog.Error("failed to connect to s3.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &S3BucketClient{
		client: c,
		cfg:    cfg,
	}
}

// WriteOutcome archives a finished crawl as
// <prefix>/<mode>/<query hash>/<unix millis>.json.
func (bc *S3BucketClient) WriteOutcome(outcome *model.CrawlOutcome) (string, error) {
	s3Key := OutcomeKey(bc.cfg.S3Settings.KeyPrefix, outcome)
	body, err := jsoniter.Marshal(outcome)
	if err != nil {
		return "", eris.Wrap(err, "marshaling failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err = bc.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bc.cfg.S3Settings.BucketName,
		Key:         &s3Key,
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", eris.Wrapf(err, "failed to save outcome to s3 key %s", s3Key)
	}
	slog.Debug("outcome saved to s3.", slog.String("key", s3Key))

	return s3Key, nil
}

func OutcomeKey(prefix string, outcome *model.CrawlOutcome) string {
	key := fmt.Sprintf("%s/%s/%d.json", outcome.Mode,
		internal.HashKey(strings.ToLower(outcome.Query)), outcome.Timestamp.UnixMilli())
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	return key
}

func connect(cfg *config.Config) (*s3.Client, error) {
	s3Config, err := awsCfg.LoadDefaultConfig(context.Background(), awsCfg.WithRegion(cfg.S3Settings.Region))
	if err != nil {
		slog.Error("failed to load s3 config.", slog.String("err", err.Error()))
		return nil, err
	}

	if cfg.Env == "local" {
		s3Config.BaseEndpoint = &cfg.S3Settings.AwsBaseEndpoint // for LocalStack
		s3Config.Credentials = crd.NewStaticCredentialsProvider("test", "test", "")
		// LocalStack needs path style addressing.
		slog.Warn("test configuration for S3")
		return s3.NewFromConfig(s3Config, func(o *s3.Options) {
			o.UsePathStyle = true
		}), nil
	}

	return s3.NewFromConfig(s3Config), nil
}
