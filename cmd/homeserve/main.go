package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homeserve/internal/clock"
	"github.com/smallbiznis/homeserve/internal/config"
	"github.com/smallbiznis/homeserve/internal/migration"
	"github.com/smallbiznis/homeserve/internal/observability"
	"github.com/smallbiznis/homeserve/internal/server"
	"github.com/smallbiznis/homeserve/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Schema first, the catalog seeds on start
		migration.Module,

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
