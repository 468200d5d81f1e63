// Package archive stores accepted contact submissions in S3, optionally
// sealed with KMS envelope encryption.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

const objectVersion = "v1"

// Record is one accepted submission
type Record struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Message    string    `json:"message"`
	ClientIP   string    `json:"client_ip"`
}

// object is the stored JSON. Exactly one of Submission and Sealed is set.
type object struct {
	Version    string             `json:"version"`
	ID         string             `json:"id"`
	ReceivedAt time.Time          `json:"received_at"`
	Submission *Record            `json:"submission,omitempty"`
	Sealed     *cryptoutil.Sealed `json:"sealed,omitempty"`
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Sealer is satisfied by *cryptoutil.Envelope
type Sealer interface {
	Seal(ctx context.Context, plaintext, aad []byte) (*cryptoutil.Sealed, error)
}

type Options struct {
	Logger log.Logger
	Bucket string
	Prefix string
	// Sealer, when set, encrypts the submission before upload
	Sealer Sealer
}

type S3Archive struct {
	put    objectPutter
	opts   Options
	logger log.Logger
}

func New(client *s3.Client, opts Options) (*S3Archive, error) {
	if client == nil {
		return nil, xerrors.New("archive: nil s3 client")
	}
	return newArchive(client, opts)
}

func newArchive(put objectPutter, opts Options) (*S3Archive, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("archive: bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &S3Archive{put: put, opts: opts, logger: opts.Logger}, nil
}

// Key is {prefix}/{yyyy}/{mm}/{dd}/{id}.json in UTC
func (a *S3Archive) Key(rec Record) string {
	t := rec.ReceivedAt.UTC()
	return path.Join(a.opts.Prefix, t.Format("2006"), t.Format("01"), t.Format("02"), rec.ID+".json")
}

// Store uploads rec and returns the object key
func (a *S3Archive) Store(ctx context.Context, rec Record) (string, error) {
	if rec.ID == "" {
		return "", xerrors.New("archive: record id is required")
	}
	obj := object{Version: objectVersion, ID: rec.ID, ReceivedAt: rec.ReceivedAt.UTC()}

	if a.opts.Sealer != nil {
		pt, err := json.Marshal(rec)
		if err != nil {
			return "", xerrors.Wrap(err, "marshal submission")
		}
		// bind the ciphertext to its id so objects cannot be swapped
		sealed, err := a.opts.Sealer.Seal(ctx, pt, []byte(rec.ID))
		clear(pt)
		if err != nil {
			return "", xerrors.Wrap(err, "seal submission")
		}
		obj.Sealed = sealed
	} else {
		obj.Submission = &rec
	}

	body, err := json.Marshal(obj)
	if err != nil {
		return "", xerrors.Wrap(err, "marshal archive object")
	}

	key := a.Key(rec)
	in := &s3.PutObjectInput{
		Bucket:      aws.String(a.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{"content-sha256": cryptoutil.SHA256Hex(body)},
		// objects are write-once, refuse to clobber an existing id
		IfNoneMatch: aws.String("*"),
	}
	if a.opts.Sealer == nil {
		in.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}
	if _, err := a.put.PutObject(ctx, in); err != nil {
		return "", xerrors.Wrapf(err, "put S3 object s3://%s/%s", a.opts.Bucket, key)
	}

	a.logger.Debug(ctx, "archived contact submission",
		"bucket", a.opts.Bucket,
		"key", key,
		"sealed", obj.Sealed != nil,
	)
	return key, nil
}
