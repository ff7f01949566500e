package objstore

import (
	"net/url"
	"strings"

	"github.com/eventstack/maestro/pkg/fault"
)

// Scheme selects the provider serving a bucket.
type Scheme string

const (
	SchemeLocal Scheme = "local"
	SchemeS3    Scheme = "s3"
	SchemeAzure Scheme = "azure"
	SchemeGCS   Scheme = "gs"
)

// BucketRef locates a test's asset tree: provider scheme, bucket (or
// container) name, and an optional key prefix.
type BucketRef struct {
	Scheme Scheme
	Bucket string
	Prefix string
}

// ParseBucketURI parses `scheme://bucket[/prefix]`. The bucket segment is
// mandatory.
func ParseBucketURI(s string) (BucketRef, error) {
	u, err := url.Parse(s)
	if err != nil {
		return BucketRef{}, fault.Wrap(fault.KindBucketURIParse, err, "parsing bucket uri %q", s)
	}

	switch Scheme(u.Scheme) {
	case SchemeLocal, SchemeS3, SchemeAzure, SchemeGCS:
	default:
		return BucketRef{}, fault.New(fault.KindBucketURIParse, "bucket uri %q has unsupported scheme %q", s, u.Scheme)
	}
	if u.Host == "" {
		return BucketRef{}, fault.New(fault.KindBucketURIParse, "bucket uri %q is missing the bucket segment", s)
	}

	return BucketRef{
		Scheme: Scheme(u.Scheme),
		Bucket: u.Host,
		Prefix: strings.Trim(u.Path, "/"),
	}, nil
}

func (r BucketRef) String() string {
	s := string(r.Scheme) + "://" + r.Bucket
	if r.Prefix != "" {
		s += "/" + r.Prefix
	}
	return s
}

// keypath returns the backend keypath for the bucket's prefix.
func (r BucketRef) keypath() []string {
	if r.Prefix == "" {
		return nil
	}
	return strings.Split(r.Prefix, "/")
}
