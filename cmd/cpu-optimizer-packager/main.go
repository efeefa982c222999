package main

import "github.com/oshokin/cpu-optimizer-packager/cmd/cpu-optimizer-packager/cmd"

func main() {
	cmd.Execute()
}
