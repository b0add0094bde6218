package main

import "github.com/jpequegn/iceberg-lakehouse/cmd"

func main() {
	cmd.Execute()
}
