// Package main is the entry point for the metergate server and CLI.
package main

import (
	"github.com/joho/godotenv"
)

func main() {
	// A .env file is optional; missing is not an error.
	_ = godotenv.Load()

	Execute()
}
