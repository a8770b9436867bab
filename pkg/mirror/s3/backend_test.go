package s3

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/drawmill/pkg/mirror"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid minimal",
			cfg:     Config{Bucket: "my-bucket"},
			wantErr: false,
		},
		{
			name:    "missing bucket",
			cfg:     Config{},
			wantErr: true,
		},
		{
			name:    "access key without secret",
			cfg:     Config{Bucket: "b", AccessKeyID: "AKIA..."},
			wantErr: true,
		},
		{
			name:    "secret without access key",
			cfg:     Config{Bucket: "b", SecretAccessKey: "secret"},
			wantErr: true,
		},
		{
			name:    "both credentials",
			cfg:     Config{Bucket: "b", AccessKeyID: "AKIA...", SecretAccessKey: "secret"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigError_Error(t *testing.T) {
	err := &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	assert.Contains(t, err.Error(), "Bucket")
	assert.Contains(t, err.Error(), "required")
}

func TestWrapError_NotFound(t *testing.T) {
	b := &Backend{bucket: "test-bucket"}

	noSuchKey := &types.NoSuchKey{}
	err := b.wrapError("Head", "missing.pdf", noSuchKey)

	var mErr *mirror.MirrorError
	require.True(t, errors.As(err, &mErr))
	assert.Equal(t, "Head", mErr.Op)
	assert.Equal(t, mirror.BackendS3, mErr.Backend)
	assert.Equal(t, "missing.pdf", mErr.Key)
	assert.True(t, errors.Is(err, mirror.ErrNotFound))
}

func TestWrapError_FromMessage(t *testing.T) {
	b := &Backend{bucket: "test-bucket"}

	tests := []struct {
		name     string
		errMsg   string
		expected error
	}{
		{"access denied", "AccessDenied: Access Denied", mirror.ErrAccessDenied},
		{"403", "operation error: https response error StatusCode: 403", mirror.ErrAccessDenied},
		{"no such key", "NoSuchKey: The specified key does not exist", mirror.ErrNotFound},
		{"404", "operation error: https response error StatusCode: 404", mirror.ErrNotFound},
		{"no such bucket", "NoSuchBucket: bucket does not exist", mirror.ErrBucketNotFound},
		{"invalid access key", "InvalidAccessKeyId: key not found", mirror.ErrInvalidCredentials},
		{"slow down", "SlowDown: Please reduce your request rate", mirror.ErrThrottled},
		{"503", "operation error: https response error StatusCode: 503", mirror.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.wrapError("Test", "key", errors.New(tt.errMsg))
			assert.True(t, errors.Is(err, tt.expected))
		})
	}
}

func TestObjectKeyPrefixing(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{"no prefix", "", "artifacts/aa/fp/document.pdf", "artifacts/aa/fp/document.pdf"},
		{"prefix without slash", "drawmill", "a/b", "drawmill/a/b"},
		{"prefix with slash", "drawmill/", "a/b", "drawmill/a/b"},
		{"leading slash stripped", "", "/a/b", "a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Backend{prefix: tt.prefix}
			assert.Equal(t, tt.want, b.objectKey(tt.key))
		})
	}
}

func TestCleanETag(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", cleanETag(`"d41d8cd98f00b204e9800998ecf8427e"`))
	assert.Equal(t, "noquotes", cleanETag("noquotes"))
}

func TestResolveRegion(t *testing.T) {
	tests := []struct {
		name      string
		cfgRegion string
		endpoint  string
		sdkRegion string
		want      string
	}{
		{"sdk resolved wins", "", "", "eu-west-1", "eu-west-1"},
		{"aws default applied", "", "", "", DefaultAWSRegion},
		{"compatible store no default", "", "https://s3.wasabisys.com", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveRegion(tt.cfgRegion, tt.endpoint, tt.sdkRegion))
		})
	}
}

func TestNew_ValidationError(t *testing.T) {
	_, err := New(context.Background(), Config{})
	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}
