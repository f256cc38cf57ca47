package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"gandalf/cmd/gandalf/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.WithError(err).Error("gandalf exited with an error")
		os.Exit(4)
	}
}
