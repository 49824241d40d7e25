package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	s3FolderMarker = ".folder"
	s3JSONSuffix   = ".json"
)

// s3API is the subset of the S3 client the gateway uses.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config describes an S3-compatible bucket used as the remote store.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Tokens    oauth2.TokenSource
	Logger    *zap.Logger
}

// S3 maps the folder model onto key prefixes in one bucket. Folder IDs are prefixes ending
// in "/", and every upload lands under a fresh UUID so it never replaces an older object.
type S3 struct {
	client s3API
	bucket string
	tokens oauth2.TokenSource
	logger *zap.Logger
}

// NewS3 builds an S3 gateway from static credentials, as used with MinIO style endpoints.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gateway: s3 bucket is required")
	}
	options := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("gateway: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3WithClient(client, cfg), nil
}

func newS3WithClient(client s3API, cfg S3Config) *S3 {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3{client: client, bucket: cfg.Bucket, tokens: cfg.Tokens, logger: logger}
}

func (g *S3) EnsureFolder(ctx context.Context, name, parentID string) (string, error) {
	const operation = "ensure_folder"
	if _, err := bearer(g.tokens); err != nil {
		return "", err
	}
	name = strings.Trim(name, "/")
	if name == "" {
		return "", &RemoteRejected{Operation: operation, Status: 400, Message: "folder name is empty"}
	}
	folderID := parentID + name + "/"
	markerKey := folderID + s3FolderMarker

	_, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(g.bucket), Key: aws.String(markerKey)})
	if err == nil {
		return folderID, nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) && !isStatus(err, 404) {
		return "", classifyS3Error(operation, err)
	}

	_, err = g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(markerKey),
		Body:        bytes.NewReader(nil),
		ContentType: aws.String("application/x-directory"),
	})
	if err != nil {
		return "", classifyS3Error(operation, err)
	}
	g.logger.Info("remote folder created", zap.String("folder_id", folderID))
	return folderID, nil
}

func (g *S3) UploadBlob(ctx context.Context, folderID, fileName string, data []byte, contentType string) (Object, error) {
	if _, err := bearer(g.tokens); err != nil {
		return Object{}, err
	}
	key := folderID + uuid.NewString() + "/" + path.Base(fileName)
	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return Object{}, classifyS3Error("upload_blob", err)
	}
	return Object{ID: key, Name: path.Base(fileName)}, nil
}

func (g *S3) ListJSONObjects(ctx context.Context, folderID string) ([]Object, error) {
	if _, err := bearer(g.tokens); err != nil {
		return nil, err
	}
	var objects []Object
	input := &s3.ListObjectsV2Input{Bucket: aws.String(g.bucket), Prefix: aws.String(folderID)}
	for {
		page, err := g.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, classifyS3Error("list_json_objects", err)
		}
		for _, item := range page.Contents {
			key := aws.ToString(item.Key)
			if !strings.HasSuffix(key, s3JSONSuffix) {
				continue
			}
			objects = append(objects, Object{ID: key, Name: path.Base(key)})
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = page.NextContinuationToken
	}
	return objects, nil
}

func (g *S3) DownloadObject(ctx context.Context, objectID string) ([]byte, error) {
	const operation = "download_object"
	if _, err := bearer(g.tokens); err != nil {
		return nil, err
	}
	output, err := g.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(g.bucket), Key: aws.String(objectID)})
	if err != nil {
		return nil, classifyS3Error(operation, err)
	}
	defer output.Body.Close()
	payload, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, &NetworkFailure{Operation: operation, Err: err}
	}
	return payload, nil
}

func classifyS3Error(operation string, err error) error {
	var responseErr *awshttp.ResponseError
	if errors.As(err, &responseErr) {
		message := responseErr.Error()
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			message = apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()
		}
		return &RemoteRejected{Operation: operation, Status: responseErr.HTTPStatusCode(), Message: message}
	}
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return &RemoteRejected{Operation: operation, Status: 404, Message: err.Error()}
	}
	return &NetworkFailure{Operation: operation, Err: err}
}

func isStatus(err error, status int) bool {
	var responseErr *awshttp.ResponseError
	return errors.As(err, &responseErr) && responseErr.HTTPStatusCode() == status
}
