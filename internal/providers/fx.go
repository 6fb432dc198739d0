package providers

import (
	"github.com/smallbiznis/newsdesk/internal/providers/email"
	"github.com/smallbiznis/newsdesk/internal/providers/image"
	"github.com/smallbiznis/newsdesk/internal/providers/ingest"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	image.Module,
	ingest.Module,
)
