package common

import (
	"fmt"
	"io"
)

// Version is overridden at build time with -ldflags "-X ...common.Version=...".
var Version = "v0.1.0"

func PrintBanner(w io.Writer) {
	banner := fmt.Sprintf(`
 __  __             _  __       _     _
|  \/  | __ _ _ __ (_)/ _| ___ | | __| |
| |\/| |/ _' | '_ \| | |_ / _ \| |/ _' |
| |  | | (_| | | | | |  _| (_) | | (_| |
|_|  |_|\__,_|_| |_|_|_|  \___/|_|\__,_|

MANIFOLD %s
Manifest-driven MCP bridge | (c) EdgeOps Labs
`, Version)

	fmt.Fprint(w, banner)
}
