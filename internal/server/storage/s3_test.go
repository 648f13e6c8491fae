package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fileflow/internal/common"
	sc "github.com/dmitrijs2005/fileflow/internal/server/config"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

type fakeAPI struct {
	api

	createIn   *s3.CreateMultipartUploadInput
	completeIn *s3.CompleteMultipartUploadInput
	abortIn    *s3.AbortMultipartUploadInput
	putIn      *s3.PutObjectInput

	headOut *s3.HeadObjectOutput
	err     error
}

func (f *fakeAPI) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.createIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}

func (f *fakeAPI) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.completeIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.CompleteMultipartUploadOutput{ETag: aws.String(`"abc-2"`)}, nil
}

func (f *fakeAPI) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.abortIn = in
	return &s3.AbortMultipartUploadOutput{}, f.err
}

func (f *fakeAPI) HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.headOut, nil
}

func (f *fakeAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putIn = in
	return &s3.PutObjectOutput{}, f.err
}

type fakePresigner struct {
	in      *s3.PutObjectInput
	expires time.Duration
	err     error
}

func (f *fakePresigner) PresignPutObject(_ context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.in = in
	var o s3.PresignOptions
	for _, fn := range optFns {
		fn(&o)
	}
	f.expires = o.Expires
	if f.err != nil {
		return nil, f.err
	}
	return &v4.PresignedHTTPRequest{URL: "https://minio/" + aws.ToString(in.Key)}, nil
}

func TestPresignPut(t *testing.T) {
	p := &fakePresigner{}
	s := &S3{presigner: p}

	url, err := s.PresignPut(context.Background(), "pub", "uploads/public/ab/abc.png", "image/png", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://minio/uploads/public/ab/abc.png", url)
	assert.Equal(t, "pub", aws.ToString(p.in.Bucket))
	assert.Equal(t, "image/png", aws.ToString(p.in.ContentType))
	assert.Equal(t, 15*time.Minute, p.expires)
}

func TestPresignPut_Error(t *testing.T) {
	s := &S3{presigner: &fakePresigner{err: errors.New("sign failed")}}
	_, err := s.PresignPut(context.Background(), "b", "k", "", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sign failed")
}

func TestMultipartRoundTrip(t *testing.T) {
	f := &fakeAPI{}
	s := &S3{client: f}
	ctx := context.Background()

	id, err := s.CreateMultipartUpload(ctx, "priv", "k", "application/zip")
	require.NoError(t, err)
	assert.Equal(t, "upload-1", id)
	assert.Equal(t, "application/zip", aws.ToString(f.createIn.ContentType))

	etag, err := s.CompleteMultipartUpload(ctx, "priv", "k", id, []*models.CompletedPart{
		{PartNumber: 1, ETag: "e1"},
		{PartNumber: 2, ETag: "e2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc-2", etag)
	parts := f.completeIn.MultipartUpload.Parts
	require.Len(t, parts, 2)
	assert.Equal(t, int32(2), aws.ToInt32(parts[1].PartNumber))
	assert.Equal(t, "e2", aws.ToString(parts[1].ETag))

	require.NoError(t, s.AbortMultipartUpload(ctx, "priv", "k", id))
	assert.Equal(t, "upload-1", aws.ToString(f.abortIn.UploadId))
}

func TestHeadObject(t *testing.T) {
	f := &fakeAPI{headOut: &s3.HeadObjectOutput{
		ETag:          aws.String(`"etag-1"`),
		ContentLength: aws.Int64(42),
		ContentType:   aws.String("text/plain"),
	}}
	s := &S3{client: f}

	info, err := s.HeadObject(context.Background(), "b", "k")
	require.NoError(t, err)
	assert.Equal(t, &models.ObjectInfo{ETag: "etag-1", SizeBytes: 42, ContentType: "text/plain"}, info)
}

func TestHeadObject_NotFound(t *testing.T) {
	s := &S3{client: &fakeAPI{err: &types.NotFound{}}}
	_, err := s.HeadObject(context.Background(), "b", "k")
	assert.ErrorIs(t, err, common.ErrUploadedObjectNotFound)

	s = &S3{client: &fakeAPI{err: errors.New("connection reset")}}
	_, err = s.HeadObject(context.Background(), "b", "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrUploadedObjectNotFound)
}

func TestPutObject(t *testing.T) {
	f := &fakeAPI{}
	s := &S3{client: f}

	require.NoError(t, s.PutObject(context.Background(), "b", "k", strings.NewReader("hi"), 2, "text/plain"))
	assert.Equal(t, int64(2), aws.ToInt64(f.putIn.ContentLength))

	require.NoError(t, s.PutObject(context.Background(), "b", "k", strings.NewReader("hi"), -1, ""))
	assert.Nil(t, f.putIn.ContentLength)
	assert.Nil(t, f.putIn.ContentType)
}

func TestNewS3_ConfigError(t *testing.T) {
	orig := loadDefaultAWSConfig
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}
	defer func() { loadDefaultAWSConfig = orig }()

	_, err := NewS3(context.Background(), &sc.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no config")
}

func TestNewS3_UsesEndpointAndPathStyle(t *testing.T) {
	var opts s3.Options
	orig := newS3ClientFromConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		for _, fn := range optFns {
			fn(&opts)
		}
		return s3.NewFromConfig(cfg, optFns...)
	}
	defer func() { newS3ClientFromConfig = orig }()

	cfg := &sc.Config{S3Region: "us-east-1", S3RootUser: "u", S3RootPassword: "p", S3BaseEndpoint: "http://127.0.0.1:9000/"}
	s, err := NewS3(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, s.client)
	assert.Equal(t, "http://127.0.0.1:9000/", aws.ToString(opts.BaseEndpoint))
	assert.True(t, opts.UsePathStyle)
}
