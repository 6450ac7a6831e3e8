package credential

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/samber/do"
)

// ParameterAPI is the subset of *ssm.Client used by ParameterStore.
type ParameterAPI interface {
	GetParameter(context.Context, *ssm.GetParameterInput, ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(context.Context, *ssm.PutParameterInput, ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// ParameterStore keeps the credential as a SecureString in AWS Systems
// Manager Parameter Store under the caller's AWS profile.
type ParameterStore struct {
	Client ParameterAPI
	Name   string
}

func NewParameterStore(i *do.Injector) (Store, error) {
	return &ParameterStore{
		Client: do.MustInvoke[*ssm.Client](i),
		Name:   do.MustInvokeNamed[string](i, "credential_parameter"),
	}, nil
}

func (s *ParameterStore) Load(ctx context.Context) (string, bool, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("parameter store").With("name", s.Name)
	log.Info("fetching credential")

	out, err := s.Client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.Name),
		WithDecryption: aws.Bool(true),
	})
	var notFound *types.ParameterNotFound
	if errors.As(err, &notFound) {
		log.Info("credential not set")
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if out.Parameter == nil {
		return "", false, nil
	}
	return aws.ToString(out.Parameter.Value), true, nil
}

func (s *ParameterStore) Save(ctx context.Context, value string) error {
	log.FromContextOrDiscard(ctx).WithGroup("parameter store").With("name", s.Name).Info("storing credential")

	_, err := s.Client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(s.Name),
		Value:     aws.String(value),
		Type:      types.ParameterTypeSecureString,
		Overwrite: aws.Bool(true),
	})
	return err
}
