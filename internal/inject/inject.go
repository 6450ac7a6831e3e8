package inject

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/dmorgan81/imagegen/internal/config"
	"github.com/dmorgan81/imagegen/internal/credential"
	"github.com/dmorgan81/imagegen/internal/generate"
	"github.com/dmorgan81/imagegen/internal/handler"
	"github.com/dmorgan81/imagegen/internal/image"
	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/dmorgan81/imagegen/internal/page"
	"github.com/dmorgan81/imagegen/internal/session"
	"github.com/samber/do"
	"github.com/samber/lo"
)

func Setup(ctx context.Context, cfg *config.Config) *do.Injector {
	log := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})
	do.ProvideValue[context.Context](injector, ctx)
	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	})
	do.Provide[*ssm.Client](injector, func(i *do.Injector) (*ssm.Client, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.ProvideValue[*http.Client](injector, &http.Client{Timeout: cfg.HTTP.Timeout})

	do.Provide[credential.Store](injector, lo.Ternary(cfg.Credential.Backend == config.BackendSSM,
		credential.NewParameterStore, credential.NewFileStore))
	do.Provide[image.Predictor](injector, image.NewReplicateClient)
	do.Provide[*generate.Workflow](injector, generate.NewWorkflow)
	do.Provide[*session.Session](injector, session.NewSession)
	do.Provide[*page.Templator](injector, page.NewTemplator)
	do.Provide[*handler.Handler](injector, handler.NewHandler)

	do.ProvideNamedValue[string](injector, "credential_path", cfg.Credential.Path)
	do.ProvideNamedValue[string](injector, "credential_parameter", cfg.Credential.Parameter)
	do.ProvideNamedValue[string](injector, "replicate_base_url", cfg.Replicate.BaseURL)
	do.ProvideNamedValue[time.Duration](injector, "poll_max_wait", cfg.Poll.MaxWait)

	return injector
}
