package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/transitlive/cmd/transitlive/app"
)

func main() {
	app.NewApp().Run()
}
