package main

import "github.com/camden-git/supplierresolver/cmd"

func main() {
	cmd.Execute()
}
