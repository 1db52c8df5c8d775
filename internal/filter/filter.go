// Package filter implements the namespace Filter component (C1,
// spec.md §4.1): a pure accept(ns) predicate combining the implicit
// system-namespace exclusion with the configured include/exclude lists.
// Shaped after the MongoShake filter chain (filter.NamespaceFilter /
// filter.AutologousFilter), collapsed into one object since this engine
// has a single filter concern rather than MongoShake's composable chain
// of GID/DDL/namespace filters.
package filter

import "strings"

// NS is a parsed "db.coll" namespace. Kept distinct from a bare string so
// database and collection can be compared without re-splitting, while
// Str() preserves the spec's "character-for-character, no case folding"
// identity invariant.
type NS struct {
	Database   string
	Collection string
}

// ParseNS splits "db.coll" on the first dot; collection names may
// themselves contain dots (e.g. "system.indexes").
func ParseNS(ns string) NS {
	i := strings.IndexByte(ns, '.')
	if i < 0 {
		return NS{Database: ns}
	}
	return NS{Database: ns[:i], Collection: ns[i+1:]}
}

func (n NS) Str() string {
	if n.Collection == "" {
		return n.Database
	}
	return n.Database + "." + n.Collection
}

// IsSystem reports whether ns is one of the namespaces spec.md §4.1
// excludes implicitly: anything in the "local" database, or any
// collection whose name begins with "system." (system.indexes included;
// IsIndexCatalog identifies that one separately).
func (n NS) IsSystem() bool {
	if n.Database == "local" {
		return true
	}
	return strings.HasPrefix(n.Collection, "system.")
}

// IsIndexCatalog reports whether ns is the per-collection index catalog
// namespace, read during cloning only and never replicated as a
// document stream (spec.md §4.1).
func (n NS) IsIndexCatalog() bool {
	return n.Collection == "system.indexes"
}

// Filter is the include/exclude pair from spec.md §3 "Filter rules".
// Precedence: explicit exclude beats include; empty include means
// "everything".
type Filter struct {
	include []string
	exclude []string
}

// New builds a Filter from comma-separated "dbs"/"colls" style
// allow-lists (spec.md §6). Each entry may be a bare database name (a
// database-prefix allow/deny) or a full "db.coll" namespace.
func New(include, exclude []string) *Filter {
	return &Filter{include: include, exclude: exclude}
}

// Accept implements the Filter component's pure predicate.
func (f *Filter) Accept(ns NS) bool {
	if ns.IsSystem() {
		return false
	}
	if f.matchesAny(ns, f.exclude) {
		return false
	}
	if len(f.include) == 0 {
		return true
	}
	return f.matchesAny(ns, f.include)
}

// AcceptDatabase is Accept restricted to the database-level portion of
// ns, for oplog entries whose collection name ("$cmd") carries no
// namespace meaning of its own. A bare-database include/exclude entry
// still applies; a "db.coll"-scoped entry does not, since a
// whole-database command (create/drop/dropDatabase/collMod) is not
// confined to one collection.
func (f *Filter) AcceptDatabase(db string) bool {
	return f.Accept(NS{Database: db})
}

func (f *Filter) matchesAny(ns NS, list []string) bool {
	for _, entry := range list {
		if matches(ns, entry) {
			return true
		}
	}
	return false
}

// matches reports whether ns falls under entry, which is either a bare
// database name (prefix match on the whole database) or a "db.coll"
// namespace (exact match).
func matches(ns NS, entry string) bool {
	if !strings.Contains(entry, ".") {
		return ns.Database == entry
	}
	return ns.Str() == entry
}
