package main

import (
	"log"

	tool "github.com/sandeepkv93/identity-linking-service/internal/tools/sweep"
)

func main() {
	if err := tool.NewRootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}
