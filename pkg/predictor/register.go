package predictor

import "github.com/replicate/cog-worker/pkg/cogtype"

func init() {
	cogtype.RegisterPathSecret(
		func(s string) any { return Path(s) },
		func(s string) any { return NewSecret(s) },
	)
}
