package main

import (
	"github.com/xgr-network/xgr-relay/command/root"
)

func main() {
	root.NewRootCommand().Execute()
}
