// Command starmark crawls bookmarks and starred repositories into
// model-written summaries.
package main

import (
	"github.com/JakeFAU/starmark/cmd"
)

func main() {
	cmd.Execute()
}
