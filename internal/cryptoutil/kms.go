package cryptoutil

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// EnvelopeVersion labels the sealed layout: 12 byte nonce || GCM ciphertext
const EnvelopeVersion = "v1"

var (
	ErrSealFailed = errors.New("envelope seal failed")
	ErrOpenFailed = errors.New("envelope open failed")
)

// kmsDataKeys is the subset of the KMS API envelope encryption needs.
// Extracted as an interface so tests run without live AWS credentials.
type kmsDataKeys interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// Sealed is what gets stored. []byte fields marshal as base64 in JSON.
type Sealed struct {
	Ciphertext   []byte `json:"ciphertext"`
	EncryptedKey []byte `json:"encrypted_key"`
	KeyID        string `json:"key_id"`
	Version      string `json:"version"`
}

type Envelope struct {
	client kmsDataKeys
	keyID  string
}

func NewEnvelope(client *kms.Client, keyID string) (*Envelope, error) {
	return newEnvelope(client, keyID)
}

func newEnvelope(client kmsDataKeys, keyID string) (*Envelope, error) {
	if client == nil {
		return nil, xerrors.New("kms client is not configured")
	}
	if keyID == "" {
		return nil, xerrors.New("kms key id is required")
	}
	return &Envelope{client: client, keyID: keyID}, nil
}

// Seal encrypts plaintext under a fresh data key. aad is authenticated but
// not stored, Open must be given the same bytes.
func (e *Envelope) Seal(ctx context.Context, plaintext, aad []byte) (*Sealed, error) {
	out, err := e.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(e.keyID),
		KeySpec: kmstypes.DataKeySpecAes256,
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "kms generate data key %s", e.keyID)
	}
	key := out.Plaintext
	defer clear(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, errors.Join(ErrSealFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Join(ErrSealFailed, xerrors.Wrap(err, "read nonce"))
	}

	keyID := e.keyID
	if out.KeyId != nil {
		keyID = *out.KeyId
	}
	return &Sealed{
		Ciphertext:   gcm.Seal(nonce, nonce, plaintext, aad),
		EncryptedKey: out.CiphertextBlob,
		KeyID:        keyID,
		Version:      EnvelopeVersion,
	}, nil
}

// Open decrypts a Sealed produced by Seal
func (e *Envelope) Open(ctx context.Context, s *Sealed, aad []byte) ([]byte, error) {
	if s == nil || s.Version != EnvelopeVersion {
		return nil, xerrors.Wrap(ErrOpenFailed, "unsupported envelope version")
	}
	out, err := e.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: s.EncryptedKey,
		KeyId:          aws.String(s.KeyID),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "kms decrypt data key %s", s.KeyID)
	}
	key := out.Plaintext
	defer clear(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, errors.Join(ErrOpenFailed, err)
	}
	ns := gcm.NonceSize()
	if len(s.Ciphertext) < ns+gcm.Overhead() {
		return nil, xerrors.Wrap(ErrOpenFailed, "ciphertext too short")
	}
	pt, err := gcm.Open(nil, s.Ciphertext[:ns], s.Ciphertext[ns:], aad)
	if err != nil {
		return nil, errors.Join(ErrOpenFailed, xerrors.Wrap(err, "gcm open"))
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, xerrors.Newf("data key is %d bytes, want 32", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, xerrors.Wrap(err, "aes cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, xerrors.Wrap(err, "gcm")
	}
	return gcm, nil
}
