package aws

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/reclaim/internal/extract"
	"github.com/yairfalse/reclaim/internal/provider"
)

// Name is the registry name of the AWS provider.
const Name = "aws"

func init() {
	provider.Register(Name, func(ctx context.Context, opts provider.Options) (extract.Source, error) {
		src, err := New(ctx, Config{Profile: opts.Profile, Regions: opts.Regions})
		if err != nil {
			return nil, err
		}
		log.Debug().
			Str("profile", opts.Profile).
			Str("default_region", src.Region()).
			Strs("regions", opts.Regions).
			Msg("aws provider opened")
		return src, nil
	})
}
