// Package appfs embeds the database migrations, email templates and static assets.
package appfs

import "embed"

//go:embed migrations templates/* assets
var FS embed.FS
