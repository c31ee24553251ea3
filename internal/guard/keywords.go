package guard

var keywords = setOf(
	// clauses and operators
	"select", "from", "where", "and", "or", "not", "as", "on", "join", "inner", "left", "right",
	"full", "outer", "cross", "natural", "using", "group", "by", "order", "having", "limit",
	"offset", "asc", "desc", "nulls", "first", "last", "distinct", "all", "union", "intersect",
	"except", "case", "when", "then", "else", "end", "is", "null", "true", "false", "in",
	"between", "like", "ilike", "glob", "similar", "escape", "exists", "any", "some", "with",
	"recursive", "materialized", "over", "partition", "rows", "range", "groups", "unbounded",
	"preceding", "following", "current", "row", "window", "filter", "within", "qualify",
	"lateral", "fetch", "next", "only", "ties", "collate", "nocase", "to", "at", "zone",
	"values", "cast", "try_cast", "interval", "extract", "both", "leading", "trailing", "for",
	"positional", "semi", "anti", "asof", "exclude", "others", "no", "top", "percent",
	// date parts
	"year", "years", "month", "months", "day", "days", "hour", "hours", "minute", "minutes",
	"second", "seconds", "millisecond", "milliseconds", "microsecond", "microseconds", "week",
	"weeks", "quarter", "quarters", "decade", "century", "millennium", "epoch", "dow", "doy",
	"isodow", "isoyear", "yearweek", "era", "timezone",
	// type names
	"integer", "int", "int2", "int4", "int8", "bigint", "smallint", "tinyint", "hugeint",
	"ubigint", "uinteger", "usmallint", "utinyint", "real", "double", "precision", "float",
	"float4", "float8", "numeric", "decimal", "text", "varchar", "char", "character", "varying",
	"string", "date", "time", "timestamp", "timestamptz", "without", "boolean", "bool", "blob",
	"bytea", "uuid", "json",
)

// frameFunctions take FROM inside their argument list without it starting a table reference.
var frameFunctions = setOf("extract", "substring", "trim", "position", "overlay")

func isKeyword(word string) bool {
	_, ok := keywords[word]
	return ok
}

func setOf(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, word := range words {
		out[word] = struct{}{}
	}
	return out
}
