package storage

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zavolanlab/krini/config"
)

// memUploader keeps uploaded objects in memory.
type memUploader struct {
	objects map[string]string
	err     error
}

func (m *memUploader) Upload(in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return m.UploadWithContext(context.Background(), in, opts...)
}

func (m *memUploader) UploadWithContext(ctx aws.Context, in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	b, err := ioutil.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)] = string(b)
	return &s3manager.UploadOutput{Location: "s3://" + aws.StringValue(in.Bucket) + "/" + aws.StringValue(in.Key)}, nil
}

func TestArchive(t *testing.T) {
	up := &memUploader{objects: map[string]string{}}
	a := &S3Archive{Uploader: up, Bucket: "runs", Prefix: "krini"}
	ctx := context.Background()

	key := a.Key("SAMtoolsView", "view1", "run-1", "record.json")
	assert.Equal(t, "krini/SAMtoolsView/view1/run-1/record.json", key)
	require.NoError(t, a.PutJSON(ctx, key, map[string]int{"exitStatus": 0}))
	assert.Equal(t, "{\n  \"exitStatus\": 0\n}", up.objects["runs/"+key])

	stdout := filepath.Join(t.TempDir(), "view1.stdout")
	require.NoError(t, ioutil.WriteFile(stdout, []byte("hello\n"), 0644))
	require.NoError(t, a.PutFile(ctx, a.Key("view1.stdout"), stdout))
	assert.Equal(t, "hello\n", up.objects["runs/krini/view1.stdout"])

	err := a.PutFile(ctx, a.Key("view1.stderr"), filepath.Join(t.TempDir(), "missing"))
	assert.True(t, os.IsNotExist(err))

	up.err = errors.New("access denied")
	assert.Error(t, a.PutJSON(ctx, key, nil))
}

func TestLoadAWSConfig(t *testing.T) {
	t.Setenv(awsCredsEnvVar, `{"id": "AKIDEXAMPLE", "secret": "s3cr3t"}`)
	conf, err := loadAWSConfig("eu-central-1")
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", aws.StringValue(conf.Region))
	creds, err := conf.Credentials.Get()
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", creds.AccessKeyID)

	t.Setenv(awsCredsEnvVar, "not json")
	_, err = loadAWSConfig("eu-central-1")
	assert.Error(t, err)

	t.Setenv(awsCredsEnvVar, "")
	conf, err = loadAWSConfig("eu-central-1")
	require.NoError(t, err)
	assert.Nil(t, conf.Credentials)
}

func TestNewS3Archive(t *testing.T) {
	t.Setenv(awsCredsEnvVar, `{"id": "AKIDEXAMPLE", "secret": "s3cr3t"}`)
	a, err := NewS3Archive(config.S3{Enabled: true, Bucket: "runs", Region: "us-east-1", Prefix: "p"})
	require.NoError(t, err)
	assert.Equal(t, "runs", a.Bucket)
	assert.NotNil(t, a.Uploader)
}
