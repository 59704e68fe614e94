package resources

import "embed"

//go:embed migrations messages.yaml
var FS embed.FS
