package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/authorization"
	"github.com/smallbiznis/newsdesk/internal/cache"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/config"
	"github.com/smallbiznis/newsdesk/internal/content"
	"github.com/smallbiznis/newsdesk/internal/contentmigration"
	"github.com/smallbiznis/newsdesk/internal/generation"
	"github.com/smallbiznis/newsdesk/internal/job"
	"github.com/smallbiznis/newsdesk/internal/llm"
	"github.com/smallbiznis/newsdesk/internal/lock"
	"github.com/smallbiznis/newsdesk/internal/migration"
	"github.com/smallbiznis/newsdesk/internal/observability"
	"github.com/smallbiznis/newsdesk/internal/prompt"
	"github.com/smallbiznis/newsdesk/internal/providers"
	"github.com/smallbiznis/newsdesk/internal/quality"
	"github.com/smallbiznis/newsdesk/internal/server"
	"github.com/smallbiznis/newsdesk/internal/source"
	"github.com/smallbiznis/newsdesk/internal/tenancy"
	"github.com/smallbiznis/newsdesk/internal/worker"
	"github.com/smallbiznis/newsdesk/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.ForProcess(observability.ProcessMonolith),
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,
		lock.Module,

		// Domains
		tenancy.Module,
		authorization.Module,
		source.Module,
		prompt.Module,
		content.Module,
		job.Module,
		contentmigration.Module,

		// Pipeline
		providers.Module,
		quality.Module,
		llm.Module,
		generation.Module,
		worker.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
