package objstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventstack/maestro/pkg/fault"
)

func TestParseBucketURI(t *testing.T) {
	tests := []struct {
		uri  string
		want BucketRef
	}{
		{"local://fixtures/basic", BucketRef{Scheme: SchemeLocal, Bucket: "fixtures", Prefix: "basic"}},
		{"s3://my-bucket/tests/run-1", BucketRef{Scheme: SchemeS3, Bucket: "my-bucket", Prefix: "tests/run-1"}},
		{"azure://container/prefix", BucketRef{Scheme: SchemeAzure, Bucket: "container", Prefix: "prefix"}},
		{"gs://bucket", BucketRef{Scheme: SchemeGCS, Bucket: "bucket"}},
		{"gs://bucket/", BucketRef{Scheme: SchemeGCS, Bucket: "bucket"}},
	}
	for _, tc := range tests {
		t.Run(tc.uri, func(t *testing.T) {
			ref, err := ParseBucketURI(tc.uri)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ref)
		})
	}
}

func TestParseBucketURIRejects(t *testing.T) {
	for _, uri := range []string{
		"",
		"ftp://bucket/x",
		"s3://",
		"local:///only-path",
		"not a uri at all ://",
	} {
		t.Run(uri, func(t *testing.T) {
			_, err := ParseBucketURI(uri)
			require.Error(t, err)
			assert.Equal(t, fault.KindBucketURIParse, fault.KindOf(err))
		})
	}
}

func TestBucketURIRoundTrip(t *testing.T) {
	for _, uri := range []string{
		"local://fixtures/basic",
		"s3://bucket/a/b/c",
		"gs://bucket",
	} {
		ref, err := ParseBucketURI(uri)
		require.NoError(t, err)

		again, err := ParseBucketURI(ref.String())
		require.NoError(t, err)
		assert.Equal(t, ref, again)
	}
}
