// Package aws enumerates AWS resources for the extraction engine.
package aws

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/reclaim/internal/extract"
	"github.com/yairfalse/reclaim/internal/fieldpath"
)

var (
	// ErrUnknownOperation is returned for queries no operation serves.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrUnsupportedIterator is returned when an operation cannot honor
	// the requested iterator mode.
	ErrUnsupportedIterator = errors.New("unsupported iterator")
)

// Config holds AWS source configuration.
type Config struct {
	Profile string
	Regions []string
}

// ClientFactory builds the clients of one region.
type ClientFactory func(cfg aws.Config) *Clients

// Source implements extract.Source against the AWS APIs. Clients are
// created on first use per region and reused afterwards.
type Source struct {
	base    aws.Config
	factory ClientFactory
	logger  zerolog.Logger

	mu      sync.Mutex
	clients map[string]*Clients
}

// New loads the shared AWS configuration and creates a source.
func New(ctx context.Context, cfg Config) (*Source, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if len(cfg.Regions) > 0 {
		opts = append(opts, config.WithRegion(cfg.Regions[0]))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithFactory(awsCfg, NewClients), nil
}

// NewWithFactory creates a source with a custom client factory.
func NewWithFactory(base aws.Config, factory ClientFactory) *Source {
	return &Source{
		base:    base,
		factory: factory,
		logger:  log.Logger,
		clients: make(map[string]*Clients),
	}
}

// NewClients creates SDK clients for every supported service.
func NewClients(cfg aws.Config) *Clients {
	return &Clients{
		EC2:         ec2.NewFromConfig(cfg),
		AutoScaling: autoscaling.NewFromConfig(cfg),
		ELB:         elasticloadbalancingv2.NewFromConfig(cfg),
		RDS:         rds.NewFromConfig(cfg),
		Lambda:      lambda.NewFromConfig(cfg),
		S3:          s3.NewFromConfig(cfg),
		IAM:         iam.NewFromConfig(cfg),
		EKS:         eks.NewFromConfig(cfg),
		ECS:         ecs.NewFromConfig(cfg),
		DynamoDB:    dynamodb.NewFromConfig(cfg),
		SQS:         sqs.NewFromConfig(cfg),
		Route53:     route53.NewFromConfig(cfg),
		Logs:        cloudwatchlogs.NewFromConfig(cfg),
		KMS:         kms.NewFromConfig(cfg),
		ECR:         ecr.NewFromConfig(cfg),
		MemoryDB:    memorydb.NewFromConfig(cfg),
		Redshift:    redshift.NewFromConfig(cfg),
		CloudTrail:  cloudtrail.NewFromConfig(cfg),
	}
}

// Region returns the default region of the loaded configuration.
func (s *Source) Region() string {
	return s.base.Region
}

func (s *Source) clientsFor(region string) *Clients {
	if region == "" {
		region = s.base.Region
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[region]; ok {
		return c
	}
	cfg := s.base.Copy()
	cfg.Region = region
	c := s.factory(cfg)
	s.clients[region] = c
	return c
}

// AccountID returns the account the credentials belong to.
func (s *Source) AccountID(ctx context.Context) (string, error) {
	out, err := s.clientsFor("").EC2.DescribeAccountAttributes(ctx, &ec2.DescribeAccountAttributesInput{})
	if err != nil {
		return "", fmt.Errorf("describe account attributes: %w", err)
	}
	for _, attr := range out.AccountAttributes {
		if aws.ToString(attr.AttributeName) == "account-id" && len(attr.AttributeValues) > 0 {
			return aws.ToString(attr.AttributeValues[0].AttributeValue), nil
		}
	}
	return "unknown", nil
}

// Items enumerates the raw items of a query. The sequence ends with a
// single error when the operation fails.
func (s *Source) Items(ctx context.Context, q extract.Query) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		stopped := false
		emit := func(item any) bool {
			if !yield(item, nil) {
				stopped = true
			}
			return !stopped
		}

		err := s.run(ctx, q, emit)
		if err != nil && !stopped {
			yield(nil, fmt.Errorf("%s/%s in %s: %w", q.Service, q.Rule, s.regionOf(q), err))
		}
	}
}

func (s *Source) regionOf(q extract.Query) string {
	if q.Region == "" {
		return s.base.Region
	}
	return q.Region
}

func (s *Source) run(ctx context.Context, q extract.Query, emit func(any) bool) error {
	key := q.Service + "/" + q.Rule
	c := s.clientsFor(q.Region)

	s.logger.Debug().
		Str("service", q.Service).
		Str("rule", q.Rule).
		Str("region", s.regionOf(q)).
		Msg("enumerating")

	switch q.Style {
	case extract.StyleCollection:
		op, ok := collections[key]
		if !ok {
			return fmt.Errorf("%w: collection %s", ErrUnknownOperation, key)
		}
		return op(ctx, c, q.Iterator, emit)

	case extract.StylePaginator:
		op, ok := paginators[key]
		if !ok {
			return fmt.Errorf("%w: paginator %s", ErrUnknownOperation, key)
		}
		if q.Iterator.Mode() != extract.ModeAll {
			return fmt.Errorf("%w: %s for paginator %s", ErrUnsupportedIterator, q.Iterator.Mode(), key)
		}
		return paginate(ctx, c, op, q.ResourcesKey, emit)
	}
	return fmt.Errorf("%w: style %q", ErrUnknownOperation, q.Style)
}

// pageFunc fetches one page given the token of the previous one.
type pageFunc func(ctx context.Context, c *Clients, token *string) (page any, next *string, err error)

// paginate walks every page and emits the items found under key.
func paginate(ctx context.Context, c *Clients, op pageFunc, key string, emit func(any) bool) error {
	var token *string
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, next, err := op(ctx, c, token)
		if err != nil {
			return err
		}

		items, err := fieldpath.Collect(page, key)
		if err != nil {
			return fmt.Errorf("resources key: %w", err)
		}
		for _, item := range items {
			if !emit(item) {
				return nil
			}
		}

		if aws.ToString(next) == "" || aws.ToString(next) == aws.ToString(token) {
			return nil
		}
		token = next
	}
}
