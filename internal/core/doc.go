// Package core is the migration engine for wis2box station data.
//
// A migration rewrites enumerated code values (codelists) in two coupled
// datasets: the station registry file (station_list.csv) and the station
// collection of the document store. Everything else in both is preserved.
//
// # Migrations
//
// Migrations are registered at init time with [Register] under their
// version, and selected with [Run]:
//
//	core.Register(core.CodelistMigration{
//	    Target:    "v1.0b7",
//	    Codelists: []string{"facility_type", "territory_name", "wmo_region"},
//	    Resources: resources,
//	})
//
//	err := core.Run(ctx, "v1.0b7", dryRun, env)
//
// # Codelists
//
// A [CodelistSet] maps old values to new ones with an identity fallback:
// a value without an entry is left as is. Applying a migration twice is
// therefore the same as applying it once, which is the only protection
// against a repeated run.
//
// # Passes
//
//  1. [LoadCodelists]: all tables or nothing, before any data is touched.
//  2. [MigrateTable]: the station file is streamed row by row and written
//     to station_list.csv.<version>, or printed in dry-run mode.
//  3. [MigrateStore]: the collection is paged in batches; each batch is
//     submitted as one bulk partial update, or printed in dry-run mode.
//
// The passes are not atomic across stores. A store failure after the file
// was written, or after some batches were committed, leaves that work in
// place. See [Checkpointer] for resuming a long store pass.
package core
