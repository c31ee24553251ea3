package guard

import "github.com/pitwall/pitwall/internal/schema"

// resolver walks the token stream twice. The first walk records table references,
// CTE names and aliases; the second checks every remaining identifier against them.
type resolver struct {
	tokens     []token
	registry   *schema.Registry
	consumed   map[int]bool
	aliases    map[string]string
	ctes       map[string]struct{}
	violations map[int]string

	// tableParen is the position of a '(' that opens a derived table.
	tableParen      int
	tableParenComma bool
}

type frame struct {
	extract   bool
	tables    bool
	commaList bool
}

func newResolver(tokens []token, registry *schema.Registry) *resolver {
	r := &resolver{
		tokens:     tokens,
		registry:   registry,
		consumed:   map[int]bool{},
		aliases:    map[string]string{},
		ctes:       map[string]struct{}{},
		violations: map[int]string{},
		tableParen: -1,
	}
	r.collectCTEs()
	r.collectReferences()
	return r
}

// firstUnknown returns the first identifier, in statement order, that resolves to nothing.
func (r *resolver) firstUnknown() (string, bool) {
	for i := 0; i < len(r.tokens); i++ {
		if detail, ok := r.violations[i]; ok {
			return detail, true
		}
		if r.consumed[i] || !r.tokens[i].identifier() {
			continue
		}
		if r.at(i+1, ".") {
			parts, last := r.chain(i)
			i = last
			if detail, ok := r.checkQualified(parts); !ok {
				return detail, true
			}
			continue
		}
		if r.at(i+1, "(") {
			continue
		}
		if !r.knownName(r.tokens[i].text) {
			return r.tokens[i].text, true
		}
	}
	return "", false
}

func (r *resolver) collectCTEs() {
	for i := range r.tokens {
		if !r.tokens[i].identifier() {
			continue
		}
		j := i + 1
		var columns []int
		if r.at(j, "(") {
			end := r.matching(j)
			if end < 0 {
				continue
			}
			list, ok := r.identifierList(j+1, end)
			if !ok {
				continue
			}
			columns = list
			j = end + 1
		}
		if !r.keywordAt(j, "as") {
			continue
		}
		j++
		if r.keywordAt(j, "not") {
			j++
		}
		if r.keywordAt(j, "materialized") {
			j++
		}
		if !r.at(j, "(") {
			continue
		}
		r.ctes[r.tokens[i].text] = struct{}{}
		r.consumed[i] = true
		for _, p := range columns {
			r.addAlias(p, "")
		}
	}
}

func (r *resolver) collectReferences() {
	var frames []frame
	for i := 0; i < len(r.tokens); i++ {
		tok := r.tokens[i]
		switch {
		case tok.is(tokenPunct, "("):
			f := frame{}
			if i > 0 && r.tokens[i-1].kind == tokenWord {
				_, f.extract = frameFunctions[r.tokens[i-1].text]
			}
			if i == r.tableParen {
				f.tables = true
				f.commaList = r.tableParenComma
			}
			frames = append(frames, f)
		case tok.is(tokenPunct, ")"):
			if len(frames) == 0 {
				continue
			}
			f := frames[len(frames)-1]
			frames = frames[:len(frames)-1]
			if f.tables {
				i = r.readDerivedAlias(i+1, f.commaList) - 1
			}
		case tok.isKeyword("from"):
			if len(frames) > 0 && frames[len(frames)-1].extract {
				continue
			}
			if r.distinctFrom(i) {
				continue
			}
			i = r.readTables(i+1, true) - 1
		case tok.isKeyword("join"):
			i = r.readTables(i+1, false) - 1
		case tok.isKeyword("as"):
			if r.identifierAt(i+1) {
				r.addAlias(i+1, "")
				i++
			}
		case tok.is(tokenPunct, ":") && r.at(i+1, ":"):
			if i+2 < len(r.tokens) && r.tokens[i+2].kind == tokenWord {
				r.consumed[i+2] = true
			}
			i += 2
		case tok.identifier() && i > 0 && expressionEnd(r.tokens[i-1]) && !r.at(i+1, ".") && !r.at(i+1, "("):
			r.addAlias(i, "")
		}
	}
}

// readTables reads table references starting at j and returns the next unread position.
// A parenthesised subquery is left for the caller, flagged so its alias is read on close.
func (r *resolver) readTables(j int, commaList bool) int {
	for {
		if r.keywordAt(j, "lateral") {
			j++
		}
		if r.at(j, "(") {
			r.tableParen = j
			r.tableParenComma = commaList
			return j
		}
		// A literal or a table function in table position reads outside the schema.
		if j < len(r.tokens) && r.tokens[j].kind == tokenString {
			r.consumed[j] = true
			r.violations[j] = unquote(r.tokens[j].text, '\'')
			return j + 1
		}
		if j < len(r.tokens) && r.tokens[j].kind == tokenWord && r.at(j+1, "(") {
			r.consumed[j] = true
			r.violations[j] = r.tokens[j].text
			return j + 1
		}
		if !r.identifierAt(j) {
			return j
		}

		parts, last := r.chain(j)
		for p := j; p <= last; p++ {
			r.consumed[p] = true
		}
		name := parts[len(parts)-1]
		if r.at(last+1, "(") {
			r.violations[j] = name
			return last + 1
		}
		if detail, ok := r.checkTable(parts); !ok {
			r.violations[j] = detail
		}

		j = r.readAlias(last+1, name)
		if commaList && r.at(j, ",") {
			j++
			continue
		}
		return j
	}
}

func (r *resolver) readDerivedAlias(j int, commaList bool) int {
	j = r.readAlias(j, "")
	if commaList && r.at(j, ",") {
		return r.readTables(j+1, true)
	}
	return j
}

// readAlias consumes an optional [AS] alias [(col, ...)] bound to table.
func (r *resolver) readAlias(j int, table string) int {
	if r.keywordAt(j, "as") {
		j++
	}
	if !r.identifierAt(j) || r.at(j+1, ".") {
		return j
	}
	r.addAlias(j, table)
	j++
	if r.at(j, "(") {
		end := r.matching(j)
		if list, ok := r.identifierList(j+1, end); end > 0 && ok {
			for _, p := range list {
				r.addAlias(p, "")
			}
			j = end + 1
		}
	}
	return j
}

func (r *resolver) checkTable(parts []string) (string, bool) {
	switch len(parts) {
	case 1:
	case 2:
		if !defaultSchema(parts[0]) {
			return parts[0], false
		}
	default:
		return joinDotted(parts), false
	}
	name := parts[len(parts)-1]
	if r.registry.HasTable(name) {
		return "", true
	}
	if _, ok := r.ctes[name]; ok {
		return "", true
	}
	return name, false
}

func (r *resolver) checkQualified(parts []string) (string, bool) {
	if len(parts) == 3 {
		if !defaultSchema(parts[0]) {
			return parts[0], false
		}
		parts = parts[1:]
	}
	if len(parts) != 2 {
		return joinDotted(parts), false
	}

	qualifier, column := parts[0], parts[1]
	target, isAlias := r.aliases[qualifier]
	if !isAlias {
		target = qualifier
	}
	if r.registry.HasTable(target) {
		if column == "*" || r.registry.HasColumn(target, column) {
			return "", true
		}
		return qualifier + "." + column, false
	}
	if _, cte := r.ctes[target]; cte || isAlias {
		if column == "*" || r.knownName(column) {
			return "", true
		}
		return qualifier + "." + column, false
	}
	return qualifier, false
}

func (r *resolver) knownName(name string) bool {
	if r.registry.HasAnyColumn(name) {
		return true
	}
	if _, ok := r.aliases[name]; ok {
		return true
	}
	_, ok := r.ctes[name]
	return ok
}

func (r *resolver) addAlias(pos int, table string) {
	r.consumed[pos] = true
	r.aliases[r.tokens[pos].text] = table
}

// chain reads a dotted name starting at i. Any word may follow a dot, as may '*'.
func (r *resolver) chain(i int) ([]string, int) {
	parts := []string{r.tokens[i].text}
	last := i
	for r.at(last+1, ".") && last+2 < len(r.tokens) {
		next := r.tokens[last+2]
		if next.kind != tokenWord && next.kind != tokenQuoted && !next.is(tokenPunct, "*") {
			break
		}
		parts = append(parts, next.text)
		last += 2
	}
	return parts, last
}

func (r *resolver) identifierList(from, to int) ([]int, bool) {
	var out []int
	for p := from; p < to; p++ {
		tok := r.tokens[p]
		if tok.is(tokenPunct, ",") {
			continue
		}
		if !tok.identifier() {
			return nil, false
		}
		out = append(out, p)
	}
	return out, len(out) > 0
}

func (r *resolver) matching(open int) int {
	depth := 0
	for p := open; p < len(r.tokens); p++ {
		switch {
		case r.tokens[p].is(tokenPunct, "("):
			depth++
		case r.tokens[p].is(tokenPunct, ")"):
			depth--
			if depth == 0 {
				return p
			}
		}
	}
	return -1
}

// distinctFrom reports whether the FROM at i belongs to IS [NOT] DISTINCT FROM.
func (r *resolver) distinctFrom(i int) bool {
	if i < 2 || !r.tokens[i-1].isKeyword("distinct") {
		return false
	}
	return r.tokens[i-2].isKeyword("is") || r.tokens[i-2].isKeyword("not")
}

func (r *resolver) at(i int, punct string) bool {
	return i >= 0 && i < len(r.tokens) && r.tokens[i].is(tokenPunct, punct)
}

func (r *resolver) keywordAt(i int, word string) bool {
	return i >= 0 && i < len(r.tokens) && r.tokens[i].isKeyword(word)
}

func (r *resolver) identifierAt(i int) bool {
	return i >= 0 && i < len(r.tokens) && r.tokens[i].identifier()
}

// expressionEnd reports whether an identifier right after tok can only be an alias.
func expressionEnd(tok token) bool {
	switch tok.kind {
	case tokenQuoted, tokenString, tokenNumber:
		return true
	case tokenPunct:
		return tok.text == ")"
	default:
		return !isKeyword(tok.text) || tok.text == "end"
	}
}

func defaultSchema(name string) bool {
	return name == "main" || name == "public"
}

func joinDotted(parts []string) string {
	out := parts[0]
	for _, part := range parts[1:] {
		out += "." + part
	}
	return out
}
