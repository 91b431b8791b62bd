// The main package for the spiderctl executable.
package main

import (
	"github.com/JakeFAU/extendspider-console/cmd"
)

func main() {
	cmd.Execute()
}
