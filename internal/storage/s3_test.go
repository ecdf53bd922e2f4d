package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/graph"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 keeps objects in memory and pages listings two keys at a time.
type fakeS3 struct {
	objects      map[string][]byte
	contentTypes map[string]string
	listCalls    int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = body
	f.contentTypes[*in.Key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listCalls++
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	// the token is the last key of the previous page
	start := 0
	if in.ContinuationToken != nil {
		start, _ = slices.BinarySearch(keys, *in.ContinuationToken)
		if start < len(keys) && keys[start] == *in.ContinuationToken {
			start++
		}
	}
	end := min(start+2, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end-1])
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	for _, id := range in.Delete.Objects {
		delete(f.objects, *id.Key)
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func testView() *graph.View {
	return graph.NewView(
		[]common.Node{{UID: "a", Type: "person"}, {UID: "b", Type: "place"}},
		[]common.Edge{{SourceUID: "a", TargetUID: "b", EdgeUID: "a_to_b", Directed: true}},
	)
}

func TestExportView(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	e := NewExporter(api, "bucket", "/exports/")

	key, err := e.ExportView(ctx, testView(), FormatDOT)
	if err != nil {
		t.Fatalf("ExportView: %v", err)
	}
	if !strings.HasPrefix(key, "exports/") || !strings.HasSuffix(key, ".dot") {
		t.Fatalf("unexpected key %q", key)
	}
	if got := api.contentTypes[key]; got != "text/vnd.graphviz" {
		t.Fatalf("unexpected content type %q", got)
	}
	body, err := e.GetFile(ctx, key)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if !bytes.Contains(body, []byte("graph knowledge_graph")) {
		t.Fatalf("unexpected dot output:\n%s", body)
	}

	key, err = e.ExportView(ctx, testView(), FormatJSON)
	if err != nil {
		t.Fatalf("ExportView: %v", err)
	}
	var decoded struct {
		Nodes []common.Node `json:"nodes"`
		Links []any         `json:"links"`
	}
	if err := json.Unmarshal(api.objects[key], &decoded); err != nil {
		t.Fatalf("decoding json export: %v", err)
	}
	if len(decoded.Nodes) != 2 || len(decoded.Links) != 1 {
		t.Fatalf("unexpected json export %+v", decoded)
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	if _, err := Render(testView(), "png"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestListAndDeleteExportsPaginate(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	api.objects["other/keep.json"] = []byte("{}")
	e := NewExporter(api, "bucket", "exports")
	for range 5 {
		if _, err := e.ExportView(ctx, testView(), FormatJSON); err != nil {
			t.Fatalf("ExportView: %v", err)
		}
	}

	keys, err := e.ListExports(ctx)
	if err != nil {
		t.Fatalf("ListExports: %v", err)
	}
	if len(keys) != 5 || api.listCalls != 3 {
		t.Fatalf("expected 5 keys over 3 pages, got %d keys over %d pages", len(keys), api.listCalls)
	}

	if err := e.DeleteExports(ctx); err != nil {
		t.Fatalf("DeleteExports: %v", err)
	}
	if len(api.objects) != 1 {
		t.Fatalf("expected only the foreign object to remain, got %v", api.objects)
	}
}
