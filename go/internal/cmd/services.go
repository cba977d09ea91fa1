package main

import (
	"database/sql"

	"github.com/mcdev12/coopsweeper/go/internal/games"
)

type Services struct {
	Games *games.Service
}

func setupServices(database *sql.DB, config *Config) *Services {
	// Database layer → Repository layer → App layer → Service layer
	gamesRepo := games.NewRepository(database)
	gamesApp := games.NewApp(gamesRepo, config.Games.Difficulties)
	gamesService := games.NewService(gamesApp)

	return &Services{
		Games: gamesService,
	}
}
