package main

import (
	"github.com/terrama-collector/cmd/agent"
)

func main() {
	agent.Execute()
}
