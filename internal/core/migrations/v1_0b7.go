package migrations

import (
	"embed"
	"io/fs"

	"github.com/JonMunkholm/wis2box-migrate/internal/core"
)

//go:embed v1_0b7/*.json
var v1_0b7Files embed.FS

func init() {
	registerV1_0b7()
}

// registerV1_0b7 moves station metadata to the WMO codelist identifiers
// introduced in wis2box 1.0b7.
func registerV1_0b7() {
	resources, err := fs.Sub(v1_0b7Files, "v1_0b7")
	if err != nil {
		panic(err)
	}

	core.Register(core.CodelistMigration{
		Target:    "v1.0b7",
		Summary:   "rewrite facility_type, territory_name and wmo_region to WMO codelist identifiers",
		Codelists: []string{"facility_type", "territory_name", "wmo_region"},
		Resources: resources,
	})
}
