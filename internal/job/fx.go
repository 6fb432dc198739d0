package job

import (
	contentdomain "github.com/smallbiznis/newsdesk/internal/content/domain"
	"github.com/smallbiznis/newsdesk/internal/job/domain"
	"github.com/smallbiznis/newsdesk/internal/job/repository"
	"github.com/smallbiznis/newsdesk/internal/job/service"
	"go.uber.org/fx"
)

var Module = fx.Module("job.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
	fx.Provide(
		func(s *service.Service) domain.Service { return s },
		func(s *service.Service) domain.Queue { return s },
		func(s *service.Service) contentdomain.JobEnqueuer { return s },
	),
)
