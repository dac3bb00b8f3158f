package aws

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
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

	"github.com/yairfalse/reclaim/internal/extract"
)

// ecsDescribeBatch is the DescribeClusters limit.
const ecsDescribeBatch = 100

// collectionFunc enumerates the items of one collection.
type collectionFunc func(ctx context.Context, c *Clients, it extract.Iterator, emit func(any) bool) error

// filteredPageFunc fetches one page of a collection honoring the iterator.
type filteredPageFunc func(ctx context.Context, c *Clients, it extract.Iterator, token *string) (page any, next *string, err error)

// pages turns a page fetcher into a collection whose items live under key.
func pages(key string, fetch filteredPageFunc) collectionFunc {
	return func(ctx context.Context, c *Clients, it extract.Iterator, emit func(any) bool) error {
		op := func(ctx context.Context, c *Clients, token *string) (any, *string, error) {
			return fetch(ctx, c, it, token)
		}
		return paginate(ctx, c, op, key, emit)
	}
}

// allOnly rejects iterator modes other than "all".
func allOnly(it extract.Iterator) error {
	if it.Mode() != extract.ModeAll {
		return fmt.Errorf("%w: %s", ErrUnsupportedIterator, it.Mode())
	}
	return nil
}

// ec2Query maps an iterator onto EC2 filters and, where the operation
// accepts them, owner ids.
func ec2Query(it extract.Iterator, ownersAllowed bool) ([]ec2types.Filter, []string, error) {
	switch it.Mode() {
	case extract.ModeAll:
		return nil, nil, nil
	case extract.ModeFilter:
		names := make([]string, 0, len(it.Filters))
		for name := range it.Filters {
			names = append(names, name)
		}
		sort.Strings(names)

		filters := make([]ec2types.Filter, 0, len(names))
		for _, name := range names {
			filters = append(filters, ec2types.Filter{Name: aws.String(name), Values: it.Filters[name]})
		}
		return filters, nil, nil
	case extract.ModeOwner:
		if !ownersAllowed {
			break
		}
		return nil, it.Owners, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedIterator, it.Mode())
}

var collections = map[string]collectionFunc{
	"ec2/instances": pages("Reservations.Instances", func(ctx context.Context, c *Clients, it extract.Iterator, token *string) (any, *string, error) {
		filters, _, err := ec2Query(it, false)
		if err != nil {
			return nil, nil, err
		}
		out, err := c.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{Filters: filters, NextToken: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe instances: %w", err)
		}
		return out, out.NextToken, nil
	}),

	"ec2/security_groups": pages("SecurityGroups", func(ctx context.Context, c *Clients, it extract.Iterator, token *string) (any, *string, error) {
		filters, _, err := ec2Query(it, false)
		if err != nil {
			return nil, nil, err
		}
		out, err := c.EC2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{Filters: filters, NextToken: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe security groups: %w", err)
		}
		return out, out.NextToken, nil
	}),

	"ec2/volumes": pages("Volumes", func(ctx context.Context, c *Clients, it extract.Iterator, token *string) (any, *string, error) {
		filters, _, err := ec2Query(it, false)
		if err != nil {
			return nil, nil, err
		}
		out, err := c.EC2.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{Filters: filters, NextToken: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe volumes: %w", err)
		}
		return out, out.NextToken, nil
	}),

	"ec2/snapshots": pages("Snapshots", func(ctx context.Context, c *Clients, it extract.Iterator, token *string) (any, *string, error) {
		filters, owners, err := ec2Query(it, true)
		if err != nil {
			return nil, nil, err
		}
		out, err := c.EC2.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{Filters: filters, OwnerIds: owners, NextToken: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe snapshots: %w", err)
		}
		return out, out.NextToken, nil
	}),

	"ec2/images": pages("Images", func(ctx context.Context, c *Clients, it extract.Iterator, token *string) (any, *string, error) {
		filters, owners, err := ec2Query(it, true)
		if err != nil {
			return nil, nil, err
		}
		out, err := c.EC2.DescribeImages(ctx, &ec2.DescribeImagesInput{Filters: filters, Owners: owners, NextToken: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe images: %w", err)
		}
		return out, out.NextToken, nil
	}),

	"ec2/addresses": pages("Addresses", func(ctx context.Context, c *Clients, it extract.Iterator, _ *string) (any, *string, error) {
		filters, _, err := ec2Query(it, false)
		if err != nil {
			return nil, nil, err
		}
		out, err := c.EC2.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{Filters: filters})
		if err != nil {
			return nil, nil, fmt.Errorf("describe addresses: %w", err)
		}
		return out, nil, nil
	}),

	"ec2/key_pairs": pages("KeyPairs", func(ctx context.Context, c *Clients, it extract.Iterator, _ *string) (any, *string, error) {
		filters, _, err := ec2Query(it, false)
		if err != nil {
			return nil, nil, err
		}
		out, err := c.EC2.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{Filters: filters})
		if err != nil {
			return nil, nil, fmt.Errorf("describe key pairs: %w", err)
		}
		return out, nil, nil
	}),

	"ec2/nat_gateways": pages("NatGateways", func(ctx context.Context, c *Clients, it extract.Iterator, token *string) (any, *string, error) {
		filters, _, err := ec2Query(it, false)
		if err != nil {
			return nil, nil, err
		}
		out, err := c.EC2.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{Filter: filters, NextToken: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe nat gateways: %w", err)
		}
		return out, out.NextToken, nil
	}),

	"ec2/vpcs": pages("Vpcs", func(ctx context.Context, c *Clients, it extract.Iterator, token *string) (any, *string, error) {
		filters, _, err := ec2Query(it, false)
		if err != nil {
			return nil, nil, err
		}
		out, err := c.EC2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{Filters: filters, NextToken: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe vpcs: %w", err)
		}
		return out, out.NextToken, nil
	}),

	"ec2/subnets": pages("Subnets", func(ctx context.Context, c *Clients, it extract.Iterator, token *string) (any, *string, error) {
		filters, _, err := ec2Query(it, false)
		if err != nil {
			return nil, nil, err
		}
		out, err := c.EC2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{Filters: filters, NextToken: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe subnets: %w", err)
		}
		return out, out.NextToken, nil
	}),

	"s3/buckets": pages("Buckets", func(ctx context.Context, c *Clients, it extract.Iterator, _ *string) (any, *string, error) {
		if err := allOnly(it); err != nil {
			return nil, nil, err
		}
		out, err := c.S3.ListBuckets(ctx, &s3.ListBucketsInput{})
		if err != nil {
			return nil, nil, fmt.Errorf("list buckets: %w", err)
		}
		return out, nil, nil
	}),

	"cloudtrail/trails": pages("TrailList", func(ctx context.Context, c *Clients, it extract.Iterator, _ *string) (any, *string, error) {
		if err := allOnly(it); err != nil {
			return nil, nil, err
		}
		out, err := c.CloudTrail.DescribeTrails(ctx, &cloudtrail.DescribeTrailsInput{})
		if err != nil {
			return nil, nil, fmt.Errorf("describe trails: %w", err)
		}
		return out, nil, nil
	}),

	"sqs/queues":      sqsQueues,
	"eks/clusters":    eksClusters,
	"ecs/clusters":    ecsClusters,
	"dynamodb/tables": dynamodbTables,
}

// sqsQueues yields one {"QueueUrl": url} item per queue.
func sqsQueues(ctx context.Context, c *Clients, it extract.Iterator, emit func(any) bool) error {
	if err := allOnly(it); err != nil {
		return err
	}
	var token *string
	for {
		out, err := c.SQS.ListQueues(ctx, &sqs.ListQueuesInput{NextToken: token})
		if err != nil {
			return fmt.Errorf("list queues: %w", err)
		}
		for _, url := range out.QueueUrls {
			if !emit(map[string]any{"QueueUrl": url}) {
				return nil
			}
		}
		if aws.ToString(out.NextToken) == "" {
			return nil
		}
		token = out.NextToken
	}
}

func eksClusters(ctx context.Context, c *Clients, it extract.Iterator, emit func(any) bool) error {
	if err := allOnly(it); err != nil {
		return err
	}
	var token *string
	for {
		out, err := c.EKS.ListClusters(ctx, &eks.ListClustersInput{NextToken: token})
		if err != nil {
			return fmt.Errorf("list eks clusters: %w", err)
		}
		for _, name := range out.Clusters {
			desc, err := c.EKS.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
			if err != nil {
				return fmt.Errorf("describe eks cluster %s: %w", name, err)
			}
			if desc.Cluster == nil {
				continue
			}
			if !emit(*desc.Cluster) {
				return nil
			}
		}
		if aws.ToString(out.NextToken) == "" {
			return nil
		}
		token = out.NextToken
	}
}

func ecsClusters(ctx context.Context, c *Clients, it extract.Iterator, emit func(any) bool) error {
	if err := allOnly(it); err != nil {
		return err
	}
	var arns []string
	var token *string
	for {
		out, err := c.ECS.ListClusters(ctx, &ecs.ListClustersInput{NextToken: token})
		if err != nil {
			return fmt.Errorf("list ecs clusters: %w", err)
		}
		arns = append(arns, out.ClusterArns...)
		if aws.ToString(out.NextToken) == "" {
			break
		}
		token = out.NextToken
	}

	for start := 0; start < len(arns); start += ecsDescribeBatch {
		end := min(start+ecsDescribeBatch, len(arns))
		out, err := c.ECS.DescribeClusters(ctx, &ecs.DescribeClustersInput{Clusters: arns[start:end]})
		if err != nil {
			return fmt.Errorf("describe ecs clusters: %w", err)
		}
		for _, cluster := range out.Clusters {
			if !emit(cluster) {
				return nil
			}
		}
	}
	return nil
}

func dynamodbTables(ctx context.Context, c *Clients, it extract.Iterator, emit func(any) bool) error {
	if err := allOnly(it); err != nil {
		return err
	}
	var start *string
	for {
		out, err := c.DynamoDB.ListTables(ctx, &dynamodb.ListTablesInput{ExclusiveStartTableName: start})
		if err != nil {
			return fmt.Errorf("list tables: %w", err)
		}
		for _, name := range out.TableNames {
			desc, err := c.DynamoDB.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
			if err != nil {
				return fmt.Errorf("describe table %s: %w", name, err)
			}
			if desc.Table == nil {
				continue
			}
			if !emit(*desc.Table) {
				return nil
			}
		}
		if aws.ToString(out.LastEvaluatedTableName) == "" {
			return nil
		}
		start = out.LastEvaluatedTableName
	}
}

var paginators = map[string]pageFunc{
	"autoscaling/DescribeAutoScalingGroups": func(ctx context.Context, c *Clients, token *string) (any, *string, error) {
		out, err := c.AutoScaling.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{NextToken: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe auto scaling groups: %w", err)
		}
		return out, out.NextToken, nil
	},

	"autoscaling/DescribeLaunchConfigurations": func(ctx context.Context, c *Clients, token *string) (any, *string, error) {
		out, err := c.AutoScaling.DescribeLaunchConfigurations(ctx, &autoscaling.DescribeLaunchConfigurationsInput{NextToken: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe launch configurations: %w", err)
		}
		return out, out.NextToken, nil
	},

	"elbv2/DescribeLoadBalancers": func(ctx context.Context, c *Clients, token *string) (any, *string, error) {
		out, err := c.ELB.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{Marker: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe load balancers: %w", err)
		}
		return out, out.NextMarker, nil
	},

	"elbv2/DescribeTargetGroups": func(ctx context.Context, c *Clients, token *string) (any, *string, error) {
		out, err := c.ELB.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{Marker: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe target groups: %w", err)
		}
		return out, out.NextMarker, nil
	},

	"rds/DescribeDBInstances": func(ctx context.Context, c *Clients, token *string) (any, *string, error) {
		out, err := c.RDS.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{Marker: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe db instances: %w", err)
		}
		return out, out.Marker, nil
	},

	"rds/DescribeDBSnapshots": func(ctx context.Context, c *Clients, token *string) (any, *string, error) {
		out, err := c.RDS.DescribeDBSnapshots(ctx, &rds.DescribeDBSnapshotsInput{Marker: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe db snapshots: %w", err)
		}
		return out, out.Marker, nil
	},

	"lambda/ListFunctions": func(ctx context.Context, c *Clients, token *string) (any, *string, error) {
		out, err := c.Lambda.ListFunctions(ctx, &lambda.ListFunctionsInput{Marker: token})
		if err != nil {
			return nil, nil, fmt.Errorf("list functions: %w", err)
		}
		return out, out.NextMarker, nil
	},

	"iam/ListRoles": func(ctx context.Context, c *Clients, token *string) (any, *string, error) {
		out, err := c.IAM.ListRoles(ctx, &iam.ListRolesInput{Marker: token})
		if err != nil {
			return nil, nil, fmt.Errorf("list roles: %w", err)
		}
		return out, out.Marker, nil
	},

	"route53/ListHostedZones": func(ctx context.Context, c *Clients, token *string) (any, *string, error) {
		out, err := c.Route53.ListHostedZones(ctx, &route53.ListHostedZonesInput{Marker: token})
		if err != nil {
			return nil, nil, fmt.Errorf("list hosted zones: %w", err)
		}
		return out, out.NextMarker, nil
	},

	"logs/DescribeLogGroups": func(ctx context.Context, c *Clients, token *string) (any, *string, error) {
		out, err := c.Logs.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{NextToken: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe log groups: %w", err)
		}
		return out, out.NextToken, nil
	},

	"kms/ListKeys": func(ctx context.Context, c *Clients, token *string) (any, *string, error) {
		out, err := c.KMS.ListKeys(ctx, &kms.ListKeysInput{Marker: token})
		if err != nil {
			return nil, nil, fmt.Errorf("list keys: %w", err)
		}
		return out, out.NextMarker, nil
	},

	"ecr/DescribeRepositories": func(ctx context.Context, c *Clients, token *string) (any, *string, error) {
		out, err := c.ECR.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{NextToken: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe repositories: %w", err)
		}
		return out, out.NextToken, nil
	},

	"memorydb/DescribeClusters": func(ctx context.Context, c *Clients, token *string) (any, *string, error) {
		out, err := c.MemoryDB.DescribeClusters(ctx, &memorydb.DescribeClustersInput{NextToken: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe memorydb clusters: %w", err)
		}
		return out, out.NextToken, nil
	},

	"redshift/DescribeClusters": func(ctx context.Context, c *Clients, token *string) (any, *string, error) {
		out, err := c.Redshift.DescribeClusters(ctx, &redshift.DescribeClustersInput{Marker: token})
		if err != nil {
			return nil, nil, fmt.Errorf("describe redshift clusters: %w", err)
		}
		return out, out.Marker, nil
	},
}

