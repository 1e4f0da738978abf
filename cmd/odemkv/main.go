package main

import "github.com/nimburion/odemkv/pkg/cli"

func main() {
	cli.Execute(cli.NewRootCommand(cli.Options{
		Name:        "odemkv",
		Description: "Inspect and maintain object-document records kept in a key-value store",
		EnvPrefix:   "ODEM",
	}))
}
