// Package secrets resolves config values that may point at SSM parameters.
//
// A value of the form "ssm:/path/to/param" is fetched with decryption at
// startup; anything else is returned as the literal it is.
package secrets

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

const ssmPrefix = "ssm:"

type parameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type Resolver struct {
	client parameterGetter
}

// NewResolver takes an ssm client; nil is allowed and makes ssm: references an error
func NewResolver(client *ssm.Client) *Resolver {
	if client == nil {
		return &Resolver{}
	}
	return &Resolver{client: client}
}

// IsReference reports whether v names an ssm parameter
func IsReference(v string) bool {
	return strings.HasPrefix(v, ssmPrefix)
}

// Resolve returns v unchanged unless it is an ssm: reference
func (r *Resolver) Resolve(ctx context.Context, v string) (string, error) {
	if !IsReference(v) {
		return v, nil
	}
	name := strings.TrimSpace(strings.TrimPrefix(v, ssmPrefix))
	if name == "" {
		return "", xerrors.New("empty ssm parameter name")
	}
	if r.client == nil {
		return "", xerrors.Newf("ssm parameter %s referenced but no ssm client configured", name)
	}

	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}
	val := strings.TrimSpace(*out.Parameter.Value)
	if val == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}
	return val, nil
}

// ResolveAll resolves each pointer in place, stopping at the first failure
func (r *Resolver) ResolveAll(ctx context.Context, vals ...*string) error {
	for _, p := range vals {
		if p == nil {
			continue
		}
		v, err := r.Resolve(ctx, *p)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

// NeedsSSM reports whether any value is an ssm reference, main uses it to skip loading AWS config
func NeedsSSM(vals ...string) bool {
	for _, v := range vals {
		if IsReference(v) {
			return true
		}
	}
	return false
}
