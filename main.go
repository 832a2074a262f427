package main

import (
	"github.com/sahilchouksey/coursemarket/app"
	"github.com/sahilchouksey/coursemarket/utils/logging"
)

func main() {
	// setup and run app
	if err := app.SetupAndRunServer(); err != nil {
		logging.Error().Err(err).Msg("Server exited with error")
		panic(err)
	}
}
