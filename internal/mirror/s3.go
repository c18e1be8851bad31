package mirror

import (
	"context"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cockroachdb/errors"

	"sgbackup/internal/config"
	"sgbackup/internal/sgb"
)

// versionMetadataKey is the object metadata entry holding the version of a
// metadata item.
const versionMetadataKey = "sgbackup-version"

// S3Mirror stores copies in an S3 bucket or an S3-compatible service.
// Objects live under {prefix}backups/{key}; metadata items under
// {prefix}metadata/{name}.
type S3Mirror struct {
	name     string
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

var _ Mirror = (*S3Mirror)(nil)

// NewS3Mirror builds a client from cfg. Credentials come from the config
// when set, otherwise from the default AWS chain (environment, shared
// files, instance roles). No request is made; see ValidateSetup.
func NewS3Mirror(ctx context.Context, cfg config.MirrorConfig) (*S3Mirror, error) {
	if cfg.S3Bucket == "" {
		return nil, errors.Wrap(sgb.ErrConfigInvalid, "s3 mirror requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "loading AWS configuration")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})

	prefix := strings.Trim(cfg.S3Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Mirror{
		name:     cfg.Name,
		bucket:   cfg.S3Bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

func (m *S3Mirror) Name() string { return m.name }

func (m *S3Mirror) objectKey(key string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return m.prefix + "backups/" + clean, nil
}

func (m *S3Mirror) metadataKey(name string) string {
	return m.prefix + "metadata/" + name
}

func (m *S3Mirror) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	objKey, err := m.objectKey(key)
	if err != nil {
		return err
	}
	counter := &countingReader{r: r}
	_, err = m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(objKey),
		Body:   counter,
	})
	if err != nil {
		return errors.Wrapf(err, "uploading %s", objKey)
	}
	if counter.n != size {
		return sizeMismatch(size, counter.n)
	}
	return nil
}

func (m *S3Mirror) Get(ctx context.Context, key string, w io.Writer) error {
	objKey, err := m.objectKey(key)
	if err != nil {
		return err
	}
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		if isNotFound(err) {
			return notFound(key)
		}
		return errors.Wrapf(err, "downloading %s", objKey)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return errors.Wrapf(err, "reading %s", objKey)
	}
	return nil
}

func (m *S3Mirror) List(ctx context.Context, prefix string) ([]string, error) {
	base := m.prefix + "backups/"
	p := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(base + prefix),
	})

	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "listing objects")
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), base))
		}
	}
	return keys, nil
}

func (m *S3Mirror) Delete(ctx context.Context, key string) error {
	objKey, err := m.objectKey(key)
	if err != nil {
		return err
	}
	_, err = m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		return errors.Wrapf(err, "deleting %s", objKey)
	}
	return nil
}

// Rename copies the object server-side, then deletes the original.
func (m *S3Mirror) Rename(ctx context.Context, oldKey, newKey string) error {
	src, err := m.objectKey(oldKey)
	if err != nil {
		return err
	}
	dst, err := m.objectKey(newKey)
	if err != nil {
		return err
	}
	_, err = m.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(m.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(copySource(m.bucket, src)),
	})
	if err != nil {
		if isNotFound(err) {
			return notFound(oldKey)
		}
		return errors.Wrapf(err, "copying %s to %s", src, dst)
	}
	return m.Delete(ctx, oldKey)
}

func (m *S3Mirror) PutMetadata(ctx context.Context, name string, r io.Reader, size int64, version int64) error {
	counter := &countingReader{r: r}
	_, err := m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(m.bucket),
		Key:      aws.String(m.metadataKey(name)),
		Body:     counter,
		Metadata: map[string]string{versionMetadataKey: strconv.FormatInt(version, 10)},
	})
	if err != nil {
		return errors.Wrapf(err, "uploading metadata %s", name)
	}
	if counter.n != size {
		return sizeMismatch(size, counter.n)
	}
	return nil
}

func (m *S3Mirror) GetMetadataVersion(ctx context.Context, name string) (int64, error) {
	out, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.metadataKey(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "reading metadata %s", name)
	}
	v, ok := out.Metadata[versionMetadataKey]
	if !ok {
		return 0, nil
	}
	version, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parsing version")
	}
	return version, nil
}

// ValidateSetup checks that the bucket exists and is reachable.
func (m *S3Mirror) ValidateSetup(ctx context.Context) error {
	if _, err := m.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(m.bucket)}); err != nil {
		return errors.Wrapf(err, "accessing bucket %s", m.bucket)
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// copySource builds the URL-encoded "bucket/key" value CopyObject expects.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return path.Join(bucket, strings.Join(segments, "/"))
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
