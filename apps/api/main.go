package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/authorization"
	"github.com/smallbiznis/newsdesk/internal/cache"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/config"
	"github.com/smallbiznis/newsdesk/internal/content"
	"github.com/smallbiznis/newsdesk/internal/contentmigration"
	"github.com/smallbiznis/newsdesk/internal/job"
	"github.com/smallbiznis/newsdesk/internal/llm"
	"github.com/smallbiznis/newsdesk/internal/observability"
	"github.com/smallbiznis/newsdesk/internal/prompt"
	"github.com/smallbiznis/newsdesk/internal/providers"
	"github.com/smallbiznis/newsdesk/internal/quality"
	"github.com/smallbiznis/newsdesk/internal/server"
	"github.com/smallbiznis/newsdesk/internal/source"
	"github.com/smallbiznis/newsdesk/internal/tenancy"
	"github.com/smallbiznis/newsdesk/pkg/db"
	"go.uber.org/fx"
)

// The API process only enqueues work. Jobs are executed by apps/worker, so
// POST /jobs/worker/start answers 409 here.
func main() {
	app := fx.New(
		config.Module,
		observability.ForProcess(observability.ProcessAPI),
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,

		tenancy.Module,
		authorization.Module,
		source.Module,
		prompt.Module,
		content.Module,
		job.Module,
		contentmigration.Module,

		// Template tests dry-run a version through the gateway, and source
		// creation runs the quality gate.
		providers.Module,
		quality.Module,
		llm.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
