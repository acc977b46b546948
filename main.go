package main

import "github.com/neurofetch/neurofetch-go/cmd"

func main() {
	cmd.Execute()
}
