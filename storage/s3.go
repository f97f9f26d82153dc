package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/zavolanlab/krini/config"
)

const awsCredsEnvVar = "AWSCREDS"

type awsCredentials struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// S3Archive uploads run artifacts to a bucket under a key prefix.
type S3Archive struct {
	Uploader s3manageriface.UploaderAPI
	Bucket   string
	Prefix   string
}

// loadAWSConfig reads static credentials from AWSCREDS. Without it the SDK's
// default credential chain applies.
func loadAWSConfig(region string) (*aws.Config, error) {
	awsConfig := &aws.Config{Region: aws.String(region)}
	secret := os.Getenv(awsCredsEnvVar)
	if secret == "" {
		return awsConfig, nil
	}
	creds := &awsCredentials{}
	err := json.Unmarshal([]byte(secret), creds)
	if err != nil {
		return nil, fmt.Errorf("error unmarshalling aws secret: %v", err)
	}
	awsConfig.Credentials = credentials.NewStaticCredentials(creds.ID, creds.Secret, "")
	return awsConfig, nil
}

func NewS3Archive(conf config.S3) (*S3Archive, error) {
	awsConfig, err := loadAWSConfig(conf.Region)
	if err != nil {
		return nil, err
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %v", err)
	}
	return &S3Archive{
		Uploader: s3manager.NewUploader(sess),
		Bucket:   conf.Bucket,
		Prefix:   conf.Prefix,
	}, nil
}

// Key joins parts below the archive prefix.
func (a *S3Archive) Key(parts ...string) string {
	return path.Join(append([]string{a.Prefix}, parts...)...)
}

func (a *S3Archive) Put(ctx context.Context, key string, body io.Reader) error {
	_, err := a.Uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(a.Bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%v/%v: %v", a.Bucket, key, err)
	}
	return nil
}

func (a *S3Archive) PutJSON(ctx context.Context, key string, v interface{}) error {
	j, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshalling %v: %v", key, err)
	}
	return a.Put(ctx, key, bytes.NewReader(j))
}

// PutFile uploads the file at filePath. A missing file is reported with an
// error satisfying os.IsNotExist.
func (a *S3Archive) PutFile(ctx context.Context, key string, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	return a.Put(ctx, key, f)
}
