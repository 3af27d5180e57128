package main

import (
	"github.com/sjzar/voicelog/cmd/voicelog"
)

func main() {
	voicelog.Execute()
}
