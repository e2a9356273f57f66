package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/flowglad/flowglad/internal/config"
	"github.com/flowglad/flowglad/internal/observability"
	"github.com/flowglad/flowglad/internal/server"
	"github.com/flowglad/flowglad/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		server.Module,
	)
	app.Run()
}

func registerSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
