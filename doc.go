// Package gitbind exposes git index and signature primitives through a small
// wrapper API over go-git.
//
// The package performs no version-control algorithms itself: index encoding,
// object hashing and object storage are done by go-git. What gitbind adds is
// ownership. Every wrapper owns the native value it wraps, releases it
// exactly once on Close, and never shares it implicitly:
//   - [Index] owns one native index. It cannot be copied; [Index.Clone] makes
//     an independent deep copy.
//   - [Repository] owns a reference-counted native repository. Each index
//     opened from it holds its own reference.
//   - [Signature] is immutable; copies are always safe.
//
// Wrappers can be attached to an external owner with [WithOwner] so their
// lifetime follows an object tree; [Scope] is a ready-made owner.
//
// # Quick Start
//
// Stage a file in a repository and persist the index:
//
//	repo, err := gitbind.OpenRepository(".")
//	if err != nil {
//	    return err
//	}
//	defer repo.Close()
//
//	idx, err := repo.Index()
//	if err != nil {
//	    return err
//	}
//	defer idx.Close()
//
//	if err := idx.Add("main.go", gitbind.StageNormal); err != nil {
//	    return err
//	}
//	return idx.Write()
//
// A standalone index file has no object database; Add then fails with
// [ErrNoObjectDatabase] unless one is bound with [WithObjectDatabase] (see
// the odb packages).
//
// # Errors
//
// Operations return errors. [Code] maps them to integer status codes for
// callers that expect C-style returns. Lookups use sentinels instead: Find
// returns -1 and Get returns nil when nothing matches.
package gitbind
