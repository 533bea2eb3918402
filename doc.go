// Package modelfetch downloads ML model files listed in a model catalog,
// verifies them and installs them atomically.
//
// The package serves two primary use cases:
//
//  1. Programmatic API via the Manager interface - NewManager returns a
//     Manager whose Download method starts a download and returns its
//     Controller at once. The Controller can be cancelled at any point before
//     the file is renamed into place, and settles exactly once.
//
//  2. Embeddable CLI via NewCommand - Parent CLI tools can attach a "models"
//     subcommand tree (list, download, info, verify) to their Cobra root.
//
// # Catalog
//
// A catalog is a base URL serving models.json, a JSON array of entries with
// filename, name, url, filesize, md5sum and optional sha256sum keys. Catalogs
// and artifacts can be read over http and https, or from gocloud.dev buckets
// (file, s3, gs) once the program registers the matching driver.
//
// # Downloads
//
// Bytes are streamed into "<dest>.part" next to the destination, verified
// against the catalog size and checksum, then renamed into place without
// ever replacing an existing file. The part file is locked for the duration,
// so two downloads to the same destination never write the same file: one
// succeeds and the other fails with ErrAlreadyExists. Any outcome other than
// success removes the part file.
//
// There is no retry, no resume and no built-in transfer timeout. Use a
// context deadline or Controller.Cancel to bound a download.
//
// # Thread Safety
//
// Manager and Controller methods can be called concurrently from multiple
// goroutines without external synchronization.
package modelfetch
