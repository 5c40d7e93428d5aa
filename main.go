// The main package for the careercrawler executable.
package main

import (
	"github.com/JakeFAU/career-page-crawler/cmd"
)

func main() {
	cmd.Execute()
}
