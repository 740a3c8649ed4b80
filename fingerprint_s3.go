// Optional S3-backed fingerprint store, so a fingerprint database can be
// shared by every host in a `parallel_hosts` binding (host.go) instead of
// being recomputed per machine. Configured via COOK_FPDB_S3=bucket/key.
// See SPEC_FULL.md §11.

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3FingerprintStore mirrors a LocalFingerprintStore's JSON document to
// an S3 object. It is only constructed when the user has configured a
// bucket, so the default build never touches the network.
type S3FingerprintStore struct {
	Bucket string
	Key    string
	sess   *session.Session
}

// NewS3FingerprintStore parses a "bucket/key/path" spec as produced by
// COOK_FPDB_S3 and opens an AWS session using the default credential
// chain (environment, shared config, EC2/ECS role).
func NewS3FingerprintStore(spec string) (*S3FingerprintStore, error) {
	bucket, key, ok := strings.Cut(spec, "/")
	if !ok || bucket == "" || key == "" {
		return nil, newErr(ErrSystemCall, Position{}, "invalid COOK_FPDB_S3 spec, want bucket/key: "+spec)
	}
	sess, err := session.NewSessionWithOptions(session.Options{SharedConfigState: session.SharedConfigEnable})
	if err != nil {
		return nil, newErr(ErrSystemCall, Position{}, "aws session: "+err.Error())
	}
	return &S3FingerprintStore{Bucket: bucket, Key: key, sess: sess}, nil
}

func (s *S3FingerprintStore) Load() (map[string]FingerprintEntry, error) {
	svc := s3.New(s.sess)
	out, err := svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		if reqErr, ok := err.(interface{ Code() string }); ok && reqErr.Code() == s3.ErrCodeNoSuchKey {
			return make(map[string]FingerprintEntry), nil
		}
		return nil, newErr(ErrSystemCall, Position{}, "s3 get "+s.Bucket+"/"+s.Key+": "+err.Error())
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, newErr(ErrSystemCall, Position{}, "s3 read body: "+err.Error())
	}
	m := make(map[string]FingerprintEntry)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, newErr(ErrSystemCall, Position{}, "decode s3 fingerprint db: "+err.Error())
		}
	}
	return m, nil
}

func (s *S3FingerprintStore) Save(m map[string]FingerprintEntry) error {
	buf, err := json.Marshal(m)
	if err != nil {
		return newErr(ErrSystemCall, Position{}, "encode s3 fingerprint db: "+err.Error())
	}
	svc := s3.New(s.sess)
	_, err = svc.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
		Body:   bytes.NewReader(buf),
	})
	if err != nil {
		return newErr(ErrSystemCall, Position{}, "s3 put "+s.Bucket+"/"+s.Key+": "+err.Error())
	}
	return nil
}
