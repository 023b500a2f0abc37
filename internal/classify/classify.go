// Package classify turns a COM_QUERY payload into an operation tag and a
// type-mask bitset, pure with respect to the input bytes other than an
// optional bounded cache.
package classify

import (
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// Op is the classifier's operation tag.
type Op int

const (
	OpUnknown Op = iota
	OpSelect
	OpInsert
	OpUpdate
	OpDelete
	OpCreateTable
	OpDropTable
	OpChangeDB
	OpSet
	OpSetTransaction
	OpKill
	OpCall
	OpBegin
	OpCommit
	OpRollback
)

// Type is a single bit of the type mask.
type Type uint32

const (
	TypeRead Type = 1 << iota
	TypeWrite
	TypeSessionWrite
	TypeUserVarRead
	TypeUserVarWrite
	TypeSysVarRead
	TypeGSysVarRead
	TypeGSysVarWrite
	TypeMasterRead
	TypeBeginTrx
	TypeCommit
	TypeRollback
	TypeEnableAutocommit
	TypeDisableAutocommit
	TypeCreateTmpTable
	TypeReadTmpTable
	TypePrepareStmt
	TypeExecStmt
	TypeDeallocPrepare
	TypeNextTrx
	TypeReadOnly
	TypeReadWrite
)

// Has reports whether bit is set in the mask.
func (m Type) Has(bit Type) bool { return m&bit != 0 }

// KillHardness distinguishes `KILL` from `KILL HARD`/`KILL SOFT`.
type KillHardness int

const (
	KillDefault KillHardness = iota
	KillSoft
	KillHard
)

// KillKind distinguishes the target of a KILL statement.
type KillKind int

const (
	KillConnection KillKind = iota
	KillQuery
	KillQueryID
)

// KillInfo is populated only when Op == OpKill.
type KillInfo struct {
	Hardness KillHardness
	Kind     KillKind
	Target   string // numeric id or, for KillConnection/KillQuery, a username
	IsUser   bool
}

// Result is the classifier's output for one statement.
type Result struct {
	Op           Op
	Mask         Type
	Kill         *KillInfo
	Multi        bool   // a second top-level statement follows after ';'
	Table        string // created/dropped table name, for temp-table tracking
	RejectReason string
}

var (
	reSetAutocommit  = regexp.MustCompile(`(?i)^\s*SET\s+(?:SESSION\s+)?autocommit\s*(?::?=)\s*(?:'(\d|TRUE|FALSE)'|(\d|TRUE|FALSE))\s*;?\s*$`)
	reSetTransaction = regexp.MustCompile(`(?i)^\s*SET\s+(GLOBAL|SESSION)?\s*TRANSACTION\b(.*)$`)
	reBegin          = regexp.MustCompile(`(?i)^\s*(BEGIN|START\s+TRANSACTION)\b`)
	reCommit         = regexp.MustCompile(`(?i)^\s*COMMIT\b`)
	reRollback       = regexp.MustCompile(`(?i)^\s*ROLLBACK\b`)
	reUse            = regexp.MustCompile(`(?i)^\s*USE\s+`)
	reCreateTmp      = regexp.MustCompile(`(?i)^\s*CREATE\s+TEMPORARY\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?` + "`?" + `([\w.]+)`)
	reCreateTable    = regexp.MustCompile(`(?i)^\s*CREATE\s+TABLE\b`)
	reDropTable      = regexp.MustCompile(`(?i)^\s*DROP\s+(?:TEMPORARY\s+)?TABLE\s+(?:IF\s+EXISTS\s+)?` + "`?" + `([\w.]+)`)
	reSelect         = regexp.MustCompile(`(?i)^\s*SELECT\b`)
	reInsert         = regexp.MustCompile(`(?i)^\s*INSERT\b`)
	reUpdate         = regexp.MustCompile(`(?i)^\s*UPDATE\b`)
	reDelete         = regexp.MustCompile(`(?i)^\s*DELETE\b`)
	reCall           = regexp.MustCompile(`(?i)^\s*CALL\b`)
	reKill           = regexp.MustCompile(`(?i)^\s*KILL\s+(HARD\s+|SOFT\s+)?(CONNECTION\s+|QUERY\s+ID\s+|QUERY\s+)?(USER\s+)?('?[\w.]+'?)`)

	reForUpdate    = regexp.MustCompile(`(?i)\bFOR\s+UPDATE\b`)
	reLockShare    = regexp.MustCompile(`(?i)\bLOCK\s+IN\s+SHARE\s+MODE\b`)
	reIntoOutfile  = regexp.MustCompile(`(?i)\bINTO\s+(OUTFILE|DUMPFILE)\b`)
	reNextval      = regexp.MustCompile(`(?i)\b(NEXTVAL|NEXT\s+VALUE\s+FOR|\.\s*NEXTVAL)\b`)
	reLockFuncs    = regexp.MustCompile(`(?i)\b(GET_LOCK|RELEASE_LOCK|IS_FREE_LOCK|IS_USED_LOCK)\s*\(`)
	reLastInsertID = regexp.MustCompile(`(?i)(\bLAST_INSERT_ID\s*\(|@@(?:identity|last_insert_id|last_gtid)\b)`)
	reSysVarRead   = regexp.MustCompile(`(?i)@@(global\.)?[a-zA-Z_][a-zA-Z0-9_]*`)
	// The leading character class keeps the second @ of a system variable
	// (@@x) from matching as a user variable.
	reUserVarRead  = regexp.MustCompile(`(?:^|[^@\w])@[a-zA-Z_][a-zA-Z0-9_]*`)
	reReadOnly     = regexp.MustCompile(`(?i)\bREAD\s+ONLY\b`)
	reReadWrite    = regexp.MustCompile(`(?i)\bREAD\s+WRITE\b`)
)

// Classifier is a pure statement classifier with an optional bounded LRU
// cache keyed by exact SQL text.
type Classifier struct {
	cache *lru.Cache
	mu    sync.Mutex
}

// NewClassifier returns a classifier with a bounded LRU cache of the given
// size. A size of 0 disables caching.
func NewClassifier(cacheSize int) *Classifier {
	c := &Classifier{}
	if cacheSize > 0 {
		c.cache, _ = lru.New(cacheSize)
	}
	return c
}

// Classify returns the classification of payload, consulting the cache when
// enabled.
func (c *Classifier) Classify(payload []byte) Result {
	text := string(payload)
	if c.cache != nil {
		c.mu.Lock()
		if v, ok := c.cache.Get(text); ok {
			c.mu.Unlock()
			return v.(Result)
		}
		c.mu.Unlock()
	}
	r := classify(text)
	if c.cache != nil {
		c.mu.Lock()
		c.cache.Add(text, r)
		c.mu.Unlock()
	}
	return r
}

// firstStatement splits text at a top-level ';' that is not inside a quoted
// string, a comment, or a BEGIN NOT ATOMIC ... END block, returning the first
// statement and whether a second one follows.
func firstStatement(text string) (stmt string, multi bool) {
	inSingle, inDouble, inLineComment, inBlockComment := false, false, false, false
	depth := 0
	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch {
		case inLineComment:
			if ch == '\n' {
				inLineComment = false
			}
			continue
		case inBlockComment:
			if ch == '*' && i+1 < len(text) && text[i+1] == '/' {
				inBlockComment = false
				i++
			}
			continue
		case inSingle:
			if ch == '\'' && !(i+1 < len(text) && text[i+1] == '\'') {
				inSingle = false
			} else if ch == '\'' {
				i++
			}
			continue
		case inDouble:
			if ch == '"' && !(i+1 < len(text) && text[i+1] == '"') {
				inDouble = false
			} else if ch == '"' {
				i++
			}
			continue
		}
		switch ch {
		case '\'':
			inSingle = true
		case '"':
			inDouble = true
		case '-':
			if i+1 < len(text) && text[i+1] == '-' {
				inLineComment = true
			}
		case '/':
			if i+1 < len(text) && text[i+1] == '*' {
				inBlockComment = true
				i++
			}
		case ';':
			if depth == 0 {
				rest := strings.TrimSpace(text[i+1:])
				if rest == "" {
					return text[:i], false
				}
				return text[:i], true
			}
		}
		upper := strings.ToUpper(text[i:])
		if strings.HasPrefix(upper, "BEGIN NOT ATOMIC") {
			depth++
		} else if depth > 0 && strings.HasPrefix(upper, "END") {
			depth--
		}
	}
	return text, false
}

func classify(raw string) Result {
	stmt, multi := firstStatement(raw)
	trimmed := strings.TrimSpace(stmt)
	r := Result{Multi: multi}

	switch {
	case reKill.MatchString(trimmed):
		return classifyKill(trimmed, r)
	case reSetAutocommit.MatchString(trimmed):
		return classifySetAutocommit(trimmed, r)
	case reSetTransaction.MatchString(trimmed):
		return classifySetTransaction(trimmed, r)
	case strings.HasPrefix(strings.ToUpper(trimmed), "SET"):
		return classifySet(trimmed, r)
	case reBegin.MatchString(trimmed):
		r.Op = OpBegin
		r.Mask |= TypeBeginTrx
		return r
	case reCommit.MatchString(trimmed):
		r.Op = OpCommit
		r.Mask |= TypeCommit
		return r
	case reRollback.MatchString(trimmed):
		r.Op = OpRollback
		r.Mask |= TypeRollback
		return r
	case reUse.MatchString(trimmed):
		r.Op = OpChangeDB
		r.Mask |= TypeSessionWrite
		return r
	case reCreateTmp.MatchString(trimmed):
		r.Op = OpCreateTable
		r.Mask |= TypeWrite | TypeCreateTmpTable
		r.Table = tableName(reCreateTmp.FindStringSubmatch(trimmed)[1])
		return r
	case reCreateTable.MatchString(trimmed):
		r.Op = OpCreateTable
		r.Mask |= TypeWrite
		return r
	case reDropTable.MatchString(trimmed):
		r.Op = OpDropTable
		r.Mask |= TypeWrite
		r.Table = tableName(reDropTable.FindStringSubmatch(trimmed)[1])
		return r
	case reSelect.MatchString(trimmed):
		return classifySelect(trimmed, r)
	case reInsert.MatchString(trimmed):
		r.Op = OpInsert
		r.Mask |= TypeWrite
		return r
	case reUpdate.MatchString(trimmed):
		r.Op = OpUpdate
		r.Mask |= TypeWrite
		return r
	case reDelete.MatchString(trimmed):
		r.Op = OpDelete
		r.Mask |= TypeWrite
		return r
	case reCall.MatchString(trimmed):
		r.Op = OpCall
		r.Mask |= TypeWrite
		return r
	}
	return r
}

func classifySelect(trimmed string, r Result) Result {
	r.Op = OpSelect
	r.Mask |= TypeRead
	switch {
	case reForUpdate.MatchString(trimmed), reLockShare.MatchString(trimmed),
		reIntoOutfile.MatchString(trimmed), reNextval.MatchString(trimmed),
		reLockFuncs.MatchString(trimmed):
		r.Mask |= TypeWrite
	case reLastInsertID.MatchString(trimmed):
		r.Mask |= TypeMasterRead
	}
	applyVarReadBits(trimmed, &r)
	return r
}

func applyVarReadBits(trimmed string, r *Result) {
	if reSysVarRead.MatchString(trimmed) {
		r.Mask |= TypeSysVarRead
	}
	if reUserVarRead.MatchString(trimmed) {
		r.Mask |= TypeUserVarRead
	}
}

// classifySet handles every SET not already matched as autocommit or
// TRANSACTION. Scopes are scanned per assignment: a GLOBAL-scoped assignment
// contributes GSYSVAR_WRITE, a session- or user-variable assignment
// contributes SESSION_WRITE, and a statement mixing both carries both bits.
func classifySet(trimmed string, r Result) Result {
	r.Op = OpSet
	global, session, userVar := scanSetScopes(trimmed)
	if global {
		r.Mask |= TypeGSysVarWrite
	}
	if session || !global {
		r.Mask |= TypeSessionWrite
	}
	if userVar {
		r.Mask |= TypeUserVarWrite
	}
	applyVarReadBits(trimmed, &r)
	return r
}

// scanSetScopes splits the SET assignment list at top-level commas and
// reports which scopes appear. An assignment with no explicit scope is a
// session assignment, matching the server's own default.
func scanSetScopes(trimmed string) (global, session, userVar bool) {
	body := trimmed[strings.Index(strings.ToUpper(trimmed), "SET")+len("SET"):]
	for _, part := range splitTopLevel(body, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		upper := strings.ToUpper(part)
		switch {
		case strings.HasPrefix(upper, "GLOBAL ") || strings.HasPrefix(upper, "@@GLOBAL."):
			global = true
		case strings.HasPrefix(part, "@") && !strings.HasPrefix(part, "@@"):
			session = true
			userVar = true
		default:
			session = true
		}
	}
	return global, session, userVar
}

// splitTopLevel splits text at sep outside quoted strings and parentheses.
func splitTopLevel(text string, sep byte) []string {
	var parts []string
	inSingle, inDouble := false, false
	depth, start := 0, 0
	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch {
		case inSingle:
			if ch == '\'' {
				inSingle = false
			}
		case inDouble:
			if ch == '"' {
				inDouble = false
			}
		case ch == '\'':
			inSingle = true
		case ch == '"':
			inDouble = true
		case ch == '(':
			depth++
		case ch == ')':
			if depth > 0 {
				depth--
			}
		case ch == sep && depth == 0:
			parts = append(parts, text[start:i])
			start = i + 1
		}
	}
	return append(parts, text[start:])
}

// tableName normalizes a parsed table identifier for tracking.
func tableName(raw string) string {
	return strings.ToLower(strings.Trim(raw, "`"))
}

func classifySetAutocommit(trimmed string, r Result) Result {
	r.Op = OpSet
	r.Mask |= TypeSessionWrite
	m := reSetAutocommit.FindStringSubmatch(trimmed)
	val := m[1]
	if val == "" {
		val = m[2]
	}
	val = strings.ToUpper(val)
	if val == "1" || val == "TRUE" {
		r.Mask |= TypeEnableAutocommit | TypeCommit
	} else {
		r.Mask |= TypeBeginTrx | TypeDisableAutocommit
	}
	return r
}

func classifySetTransaction(trimmed string, r Result) Result {
	r.Op = OpSetTransaction
	m := reSetTransaction.FindStringSubmatch(trimmed)
	scope := strings.ToUpper(strings.TrimSpace(m[1]))
	body := m[2]
	switch scope {
	case "GLOBAL":
		r.Mask |= TypeGSysVarWrite
	case "":
		r.Mask |= TypeNextTrx
	}
	if reReadOnly.MatchString(body) && scope != "GLOBAL" {
		r.Mask |= TypeReadOnly
	}
	if reReadWrite.MatchString(body) && scope != "GLOBAL" {
		r.Mask |= TypeReadWrite
	}
	return r
}

func classifyKill(trimmed string, r Result) Result {
	r.Op = OpKill
	r.Mask |= TypeWrite
	m := reKill.FindStringSubmatch(trimmed)
	info := &KillInfo{}
	switch strings.ToUpper(strings.TrimSpace(m[1])) {
	case "HARD":
		info.Hardness = KillHard
	case "SOFT":
		info.Hardness = KillSoft
	default:
		info.Hardness = KillDefault
	}
	kind := strings.ToUpper(strings.TrimSpace(m[2]))
	isUser := strings.TrimSpace(m[3]) != ""
	switch {
	case strings.HasPrefix(kind, "QUERY ID"):
		info.Kind = KillQueryID
		if isUser {
			r.RejectReason = "KILL QUERY ID USER target is disallowed"
		}
	case strings.HasPrefix(kind, "QUERY"):
		info.Kind = KillQuery
	default:
		info.Kind = KillConnection
	}
	info.IsUser = isUser
	info.Target = strings.Trim(m[4], "'")
	r.Kill = info
	return r
}
