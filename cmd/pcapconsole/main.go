package main

import "github.com/netsentinel/pcapconsole/cmd/pcapconsole/cmd"

func main() {
	cmd.Execute()
}
