package main

import "github.com/kidsclubplans/kcp/cmd"

func main() {
	cmd.Execute()
}
