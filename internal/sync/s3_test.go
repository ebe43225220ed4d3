package sync

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakePutter struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Destination_Write(t *testing.T) {
	fp := &fakePutter{}
	d := &S3Destination{client: fp, bucket: "lot-archive", key: "atlasgrid/ledger.jsonl"}

	data := []byte(`{"type":"header"}` + "\n")
	if err := d.Write(context.Background(), data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if aws.ToString(fp.in.Bucket) != "lot-archive" || aws.ToString(fp.in.Key) != "atlasgrid/ledger.jsonl" {
		t.Errorf("put to %s/%s", aws.ToString(fp.in.Bucket), aws.ToString(fp.in.Key))
	}
	if aws.ToString(fp.in.ContentType) != "application/x-ndjson" {
		t.Errorf("ContentType = %q", aws.ToString(fp.in.ContentType))
	}
	if aws.ToInt64(fp.in.ContentLength) != int64(len(data)) || string(fp.body) != string(data) {
		t.Errorf("body = %q (length %d)", fp.body, aws.ToInt64(fp.in.ContentLength))
	}
	if d.Name() != "s3://lot-archive/atlasgrid/ledger.jsonl" {
		t.Errorf("Name() = %q", d.Name())
	}
}

func TestS3Destination_WriteError(t *testing.T) {
	boom := errors.New("access denied")
	d := &S3Destination{client: &fakePutter{err: boom}, bucket: "b", key: "k"}
	if err := d.Write(context.Background(), []byte("x\n")); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped put error, got %v", err)
	}
}
