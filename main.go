// The main package for the tagfeed executable.
package main

import (
	"github.com/JakeFAU/tagfeed/cmd"
)

func main() {
	cmd.Execute()
}
