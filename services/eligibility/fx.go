package eligibility

import (
	"go.uber.org/fx"
)

var Module = fx.Module("eligibility.service",
	fx.Provide(NewEvaluator),
)
