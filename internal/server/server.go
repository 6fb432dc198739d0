package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/newsdesk/internal/authorization"
	"github.com/smallbiznis/newsdesk/internal/config"
	contentdomain "github.com/smallbiznis/newsdesk/internal/content/domain"
	"github.com/smallbiznis/newsdesk/internal/contentmigration"
	jobdomain "github.com/smallbiznis/newsdesk/internal/job/domain"
	"github.com/smallbiznis/newsdesk/internal/observability"
	obsmiddleware "github.com/smallbiznis/newsdesk/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/newsdesk/internal/observability/metrics"
	obstracing "github.com/smallbiznis/newsdesk/internal/observability/tracing"
	promptdomain "github.com/smallbiznis/newsdesk/internal/prompt/domain"
	sourcedomain "github.com/smallbiznis/newsdesk/internal/source/domain"
	tenancydomain "github.com/smallbiznis/newsdesk/internal/tenancy/domain"
	"github.com/smallbiznis/newsdesk/internal/worker"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the full HTTP surface. Binaries that only need part of it
// provide NewEngine and NewServer themselves and pick the route groups.
var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// WorkerControl is the part of the worker the HTTP surface may poke.
type WorkerControl interface {
	Start() bool
	Running() bool
}

type Server struct {
	engine       *gin.Engine
	log          *zap.Logger
	jwtSecret    string
	tenancySvc   tenancydomain.Service
	authzSvc     authorization.Service
	jobSvc       jobdomain.Service
	promptSvc    promptdomain.Service
	contentSvc   contentdomain.Service
	sourceSvc    sourcedomain.Service
	migrationSvc *contentmigration.Service
	worker       WorkerControl
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	TenancySvc   tenancydomain.Service
	AuthzSvc     authorization.Service
	JobSvc       jobdomain.Service
	PromptSvc    promptdomain.Service
	ContentSvc   contentdomain.Service
	SourceSvc    sourcedomain.Service
	MigrationSvc *contentmigration.Service `optional:"true"`
	Worker       *worker.Worker            `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		log:          p.Log.Named("http.server"),
		jwtSecret:    p.Cfg.AuthJWTSecret,
		tenancySvc:   p.TenancySvc,
		authzSvc:     p.AuthzSvc,
		jobSvc:       p.JobSvc,
		promptSvc:    p.PromptSvc,
		contentSvc:   p.ContentSvc,
		sourceSvc:    p.SourceSvc,
		migrationSvc: p.MigrationSvc,
	}
	if p.Worker != nil {
		svc.worker = p.Worker
	}
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// RegisterRoutes mounts every route group.
func (s *Server) RegisterRoutes() {
	s.RegisterJobRoutes()
	s.RegisterPromptRoutes()
	s.RegisterContentRoutes()
	s.RegisterSourceRoutes()
	s.RegisterUserManagementRoutes()
	s.RegisterMigrationRoutes()
	s.registerFallback()
}

// scoped returns a group that resolves identity and account scope.
func (s *Server) scoped(path string) *gin.RouterGroup {
	return s.engine.Group(path, s.Identity(), RequireUser(), s.AccountScope())
}

func (s *Server) RegisterJobRoutes() {
	jobs := s.scoped("/jobs")

	jobs.POST("", s.RequireAction(authorization.ActionJobRun), s.EnqueueJob)
	jobs.GET("/recent", s.RequireAction(authorization.ActionJobView), s.ListRecentJobs)
	jobs.GET("/status/:status", s.RequireAction(authorization.ActionJobView), s.ListJobsByStatus)
	jobs.GET("/stats", s.RequireAction(authorization.ActionJobView), s.GetJobStats)
	jobs.POST("/worker/start", s.RequireAction(authorization.ActionJobRun), s.StartWorker)
	jobs.GET("/worker/status", s.RequireAction(authorization.ActionJobView), s.GetWorkerStatus)
	jobs.GET("/:id", s.RequireAction(authorization.ActionJobView), s.GetJob)
	jobs.POST("/:id/cancel", s.RequireAction(authorization.ActionJobRun), s.CancelJob)
	jobs.POST("/:id/retry", s.RequireAction(authorization.ActionJobRun), s.RetryJob)

	automate := s.scoped("/automate")
	automate.POST("/full-cycle", s.RequireAction(authorization.ActionJobRun), s.RunFullCycle)
	automate.POST("/analyze", s.RequireAction(authorization.ActionJobRun), s.RunAnalysis)
}

func (s *Server) RegisterPromptRoutes() {
	templates := s.scoped("/prompts/templates")

	templates.GET("", s.RequireAction(authorization.ActionTemplateView), s.ListTemplates)
	templates.POST("", s.RequireAction(authorization.ActionTemplateCreate), s.CreateTemplate)
	templates.PUT("/reorder", s.RequireAction(authorization.ActionTemplateUpdate), s.ReorderTemplates)
	templates.GET("/:id", s.RequireAction(authorization.ActionTemplateView), s.GetTemplate)
	templates.PUT("/:id", s.RequireAction(authorization.ActionTemplateUpdate), s.UpdateTemplate)
	templates.GET("/:id/versions", s.RequireAction(authorization.ActionTemplateView), s.ListTemplateVersions)
	templates.POST("/:id/versions", s.RequireAction(authorization.ActionTemplateUpdate), s.CreateTemplateVersion)
	templates.PUT("/:id/versions/:vid/current", s.RequireAction(authorization.ActionTemplateUpdate), s.SetCurrentTemplateVersion)
	templates.POST("/:id/versions/:vid/test", s.RequireAction(authorization.ActionTemplateTest), s.TestTemplateVersion)
}

func (s *Server) RegisterContentRoutes() {
	content := s.scoped("/content")

	content.GET("/review", s.RequireAction(authorization.ActionContentView), s.ListReview)
	content.GET("/stats", s.RequireAction(authorization.ActionContentView), s.GetContentStats)
	content.POST("/generate", s.RequireAction(authorization.ActionContentCreate), s.GenerateContent)
	content.GET("/articles/:id", s.RequireAction(authorization.ActionContentView), s.GetGeneratedArticle)
	content.GET("/articles/:id/logs", s.RequireAction(authorization.ActionResponseLogView), s.ListResponseLogs)
	content.POST("/articles/:id/regenerate", s.RequireAction(authorization.ActionContentCreate), s.RegenerateArticle)
	content.PUT("/:type/:id/status", s.RequireAction(authorization.ActionContentUpdate), s.UpdateContentStatus)
}

func (s *Server) RegisterSourceRoutes() {
	news := s.scoped("/news")

	news.GET("/sources/status", s.RequireAction(authorization.ActionSourceView), s.ListSourceStatus)
	news.POST("/sources", s.RequireAction(authorization.ActionSourceCreate), s.CreateSource)
	news.PUT("/sources/:id/status", s.RequireAction(authorization.ActionSourceUpdate), s.SetSourceStatus)
	news.POST("/sources/:id/refresh", s.RequireAction(authorization.ActionSourceUpdate), s.RefreshSource)
	news.POST("/sources/refresh", s.RequireAction(authorization.ActionSourceUpdate), s.RefreshAllSources)
	news.POST("/articles", s.RequireAction(authorization.ActionSourceCreate), s.IngestArticle)
	news.GET("/articles/:id", s.RequireAction(authorization.ActionSourceView), s.GetScrapedArticle)
}

func (s *Server) RegisterUserManagementRoutes() {
	// Routes that act on the caller rather than an account.
	self := s.engine.Group("/user-management", s.Identity(), RequireUser())
	self.GET("/accounts", s.ListMyAccounts)
	self.POST("/invitations/accept", s.AcceptInvitation)

	users := s.scoped("/user-management/account")
	users.GET("", s.RequireAction(authorization.ActionAccountView), s.GetAccount)
	users.PUT("/settings", s.RequireAction(authorization.ActionAccountUpdate), s.UpdateAccountSettings)
	users.GET("/users", s.RequireAction(authorization.ActionUserView), s.ListAccountUsers)
	users.PUT("/users", s.RequireAction(authorization.ActionUserManage), s.AssignUserRole)
	users.DELETE("/users/:userId", s.RequireAction(authorization.ActionUserManage), s.RemoveAccountUser)
	users.GET("/invitations", s.RequireAction(authorization.ActionInvitationManage), s.ListInvitations)
	users.POST("/invitations", s.RequireAction(authorization.ActionInvitationManage), s.CreateInvitation)
	users.POST("/invitations/:id/cancel", s.RequireAction(authorization.ActionInvitationManage), s.CancelInvitation)
}

func (s *Server) RegisterMigrationRoutes() {
	if s.migrationSvc == nil {
		return
	}
	migration := s.scoped("/admin/migration")

	migration.GET("/progress", s.RequireAction(authorization.ActionMigrationView), s.GetMigrationProgress)
	migration.POST("/backfill", s.RequireAction(authorization.ActionMigrationRun), s.RunBackfill)
	migration.POST("/rollback", s.RequireAction(authorization.ActionMigrationRun), s.RunMigrationRollback)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrRouteNotFound)
	})
}
