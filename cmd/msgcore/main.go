package main

import "github.com/Sairajgoud-kodipaka/demo-backend-sub000/cmd/cli"

func main() {
	cli.Execute()
}
