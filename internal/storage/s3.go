// Package storage uploads graph snapshots to S3 compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kgstore/internal/util"
	"github.com/OFFIS-RIT/kgstore/pkg/graph"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Export formats.
const (
	FormatDOT  = "dot"
	FormatJSON = "json"
)

func init() {
	_ = mime.AddExtensionType(".dot", "text/vnd.graphviz")
}

// ObjectAPI is the subset of the S3 client the exporter uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// ClientOptions configures NewS3Client.
type ClientOptions struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewS3Client builds a path-style client so MinIO and similar servers work.
func NewS3Client(ctx context.Context, opts ClientOptions) (*s3.Client, error) {
	loaders := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.Endpoint != "" {
		loaders = append(loaders, config.WithBaseEndpoint(opts.Endpoint))
	}
	if opts.AccessKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// Exporter writes objects below a fixed prefix of one bucket.
type Exporter struct {
	api    ObjectAPI
	bucket string
	prefix string
}

func NewExporter(api ObjectAPI, bucket, prefix string) *Exporter {
	return &Exporter{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Render encodes the view in the given format.
func Render(view *graph.View, format string) ([]byte, error) {
	switch format {
	case FormatDOT:
		return view.DOT("")
	case FormatJSON:
		return json.Marshal(view)
	}
	return nil, fmt.Errorf("unknown export format %q", format)
}

// ExportView renders view and uploads it under a time ordered key. It
// returns the object key.
func (e *Exporter) ExportView(ctx context.Context, view *graph.View, format string) (string, error) {
	body, err := Render(view, format)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s.%s", time.Now().UTC().Format("20060102T150405Z"), util.NewID(), format)
	key, err := e.PutFile(ctx, name, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	logger.Info("[Storage][ExportView] Uploaded graph snapshot", "key", key, "nodes", view.NodeCount(), "edges", view.EdgeCount())
	return key, nil
}

// PutFile uploads file as prefix/name with a content type derived from the
// extension.
func (e *Exporter) PutFile(ctx context.Context, name string, file io.ReadSeeker) (string, error) {
	key := path.Join(e.prefix, name)
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := e.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file to S3: %w", err)
	}
	return key, nil
}

func (e *Exporter) GetFile(ctx context.Context, key string) ([]byte, error) {
	result, err := e.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get file from S3: %w", err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return nil, fmt.Errorf("failed to read file contents: %w", err)
	}
	return buf.Bytes(), nil
}

// ListExports returns the keys of every stored export.
func (e *Exporter) ListExports(ctx context.Context) ([]string, error) {
	var keys []string
	err := e.each(ctx, func(objs []types.Object) error {
		for _, obj := range objs {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		return nil
	})
	return keys, err
}

// DeleteExports removes every object below the prefix.
func (e *Exporter) DeleteExports(ctx context.Context) error {
	return e.each(ctx, func(objs []types.Object) error {
		ids := make([]types.ObjectIdentifier, 0, len(objs))
		for _, obj := range objs {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		_, err := e.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(e.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects below %s: %w", e.prefix, err)
		}
		return nil
	})
}

func (e *Exporter) each(ctx context.Context, fn func([]types.Object) error) error {
	prefix := e.prefix
	if prefix != "" {
		prefix += "/"
	}
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(e.bucket),
		Prefix: aws.String(prefix),
	}
	for {
		out, err := e.api.ListObjectsV2(ctx, in)
		if err != nil {
			return fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}
		if len(out.Contents) > 0 {
			if err := fn(out.Contents); err != nil {
				return err
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return nil
		}
		in.ContinuationToken = out.NextContinuationToken
	}
}
