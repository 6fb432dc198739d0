package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/cache"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/config"
	"github.com/smallbiznis/newsdesk/internal/content"
	"github.com/smallbiznis/newsdesk/internal/generation"
	"github.com/smallbiznis/newsdesk/internal/job"
	"github.com/smallbiznis/newsdesk/internal/llm"
	"github.com/smallbiznis/newsdesk/internal/lock"
	"github.com/smallbiznis/newsdesk/internal/observability"
	"github.com/smallbiznis/newsdesk/internal/prompt"
	"github.com/smallbiznis/newsdesk/internal/providers"
	"github.com/smallbiznis/newsdesk/internal/quality"
	"github.com/smallbiznis/newsdesk/internal/source"
	"github.com/smallbiznis/newsdesk/internal/tenancy"
	"github.com/smallbiznis/newsdesk/internal/worker"
	"github.com/smallbiznis/newsdesk/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.ForProcess(observability.ProcessWorker),
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		lock.Module,

		tenancy.Module,
		source.Module,
		prompt.Module,
		content.Module,
		job.Module,

		providers.Module,
		quality.Module,
		llm.Module,
		generation.Module,

		// No server module: the loop starts on boot and reaps expired leases.
		worker.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}
