// Command dsrouter runs the datasource router with its health checker and
// admin API, configured from the environment (and an optional .env file).
package main

import (
	"log"

	"dynamic-datasource/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
