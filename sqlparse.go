package dbrouter

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/xwb1989/sqlparser"
	"gorm.io/gorm/logger"
)

// SqlType statement category
type SqlType int

const (
	SqlTypeOther SqlType = iota
	SqlTypeSelect
	SqlTypeInsert
	SqlTypeReplace
	SqlTypeUpdate
	SqlTypeDelete
	SqlTypeDDL
	SqlTypeSet
	SqlTypeShow
	SqlTypeUse
	SqlTypeBegin
	SqlTypeCommit
	SqlTypeRollback
)

var sqlTypeNames = map[SqlType]string{
	SqlTypeOther:    "OTHER",
	SqlTypeSelect:   "SELECT",
	SqlTypeInsert:   "INSERT",
	SqlTypeReplace:  "REPLACE",
	SqlTypeUpdate:   "UPDATE",
	SqlTypeDelete:   "DELETE",
	SqlTypeDDL:      "DDL",
	SqlTypeSet:      "SET",
	SqlTypeShow:     "SHOW",
	SqlTypeUse:      "USE",
	SqlTypeBegin:    "BEGIN",
	SqlTypeCommit:   "COMMIT",
	SqlTypeRollback: "ROLLBACK",
}

func (t SqlType) String() string {
	if name, ok := sqlTypeNames[t]; ok {
		return name
	}
	return "OTHER"
}

// SqlAttribute read-only view of one statement, produced per call
type SqlAttribute struct {
	Sql       string
	NativeSql string
	Type      SqlType
	Tables    []string
	Hint      SqlHint
	// DefaultDatabase is filled by the router when configured
	DefaultDatabase string

	read  bool
	write bool
}

func (a *SqlAttribute) IsRead() bool {
	return a != nil && a.read
}

func (a *SqlAttribute) IsWrite() bool {
	return a != nil && a.write
}

// NewSqlAttribute builds an attribute by hand, for parsers other than the default one.
func NewSqlAttribute(sql string, sqlType SqlType, write bool, tables ...string) *SqlAttribute {
	return &SqlAttribute{
		Sql:       sql,
		NativeSql: sql,
		Type:      sqlType,
		Tables:    tables,
		Hint:      SqlHint{},
		read:      !write,
		write:     write,
	}
}

// conservativeAttribute stands in for a statement that could not be classified.
func conservativeAttribute(sql string) *SqlAttribute {
	attr := NewSqlAttribute(sql, SqlTypeOther, true)
	if hint, nativeSql, err := ParseHint(sql); err == nil {
		attr.Hint = hint
		attr.NativeSql = nativeSql
	}
	return attr
}

// SqlParser classifies a statement. Implementations must be safe for concurrent use.
type SqlParser interface {
	Parse(sql string) (*SqlAttribute, error)
}

// DefaultSqlParser strips the routing hint and classifies the rest with sqlparser.
type DefaultSqlParser struct{}

func (DefaultSqlParser) Parse(sql string) (*SqlAttribute, error) {
	hint, nativeSql, err := ParseHint(sql)
	if err != nil {
		return nil, err
	}
	stmt, err := sqlparser.Parse(nativeSql)
	if err != nil {
		return nil, errors.Wrapf(ErrSqlClassification, "parse sql err: %v", err)
	}

	attr := &SqlAttribute{Sql: sql, NativeSql: nativeSql, Hint: hint}
	switch node := stmt.(type) {
	case *sqlparser.Select:
		attr.Type = SqlTypeSelect
		// locking reads must see the primary
		attr.write = node.Lock == sqlparser.ForUpdateStr || node.Lock == sqlparser.ShareModeStr
	case *sqlparser.Union, *sqlparser.ParenSelect:
		attr.Type = SqlTypeSelect
	case *sqlparser.Insert:
		attr.Type = SqlTypeInsert
		if node.Action == sqlparser.ReplaceStr {
			attr.Type = SqlTypeReplace
		}
		attr.write = true
	case *sqlparser.Update:
		attr.Type, attr.write = SqlTypeUpdate, true
	case *sqlparser.Delete:
		attr.Type, attr.write = SqlTypeDelete, true
	case *sqlparser.DDL, *sqlparser.DBDDL:
		attr.Type, attr.write = SqlTypeDDL, true
	case *sqlparser.Set:
		attr.Type, attr.write = SqlTypeSet, true
	case *sqlparser.Show, *sqlparser.OtherRead:
		attr.Type = SqlTypeShow
	case *sqlparser.Use:
		attr.Type, attr.write = SqlTypeUse, true
	case *sqlparser.Begin:
		attr.Type, attr.write = SqlTypeBegin, true
	case *sqlparser.Commit:
		attr.Type, attr.write = SqlTypeCommit, true
	case *sqlparser.Rollback:
		attr.Type, attr.write = SqlTypeRollback, true
	default:
		attr.Type, attr.write = SqlTypeOther, true
	}
	attr.read = !attr.write
	attr.Tables = tableNames(stmt)
	return attr, nil
}

// tableNames 通过解析器遍历取表名，去重并保持出现顺序
func tableNames(stmt sqlparser.Statement) []string {
	var (
		seen   = map[string]struct{}{}
		tables []string
	)
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.ColName:
			// the qualifier is an alias or table reference, not a table access
			return false, nil
		case sqlparser.TableName:
			// "select 1" reads from the implicit dual table
			if n.IsEmpty() || (n.Qualifier.IsEmpty() && n.Name.String() == "dual") {
				return false, nil
			}
			name := n.Name.String()
			if !n.Qualifier.IsEmpty() {
				name = n.Qualifier.String() + "." + name
			}
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				tables = append(tables, name)
			}
			return false, nil
		}
		return true, nil
	}, stmt)
	return tables
}

// FailPolicy how classification failures are handled on the routing path
type FailPolicy int

const (
	// FailIgnore substitutes a conservative write attribute and keeps routing.
	FailIgnore FailPolicy = iota
	// FailWarn is FailIgnore plus a logged warning.
	FailWarn
	// FailFail aborts the statement.
	FailFail
)

func ParseFailPolicy(s string) (FailPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ignore", "":
		return FailIgnore, nil
	case "warn":
		return FailWarn, nil
	case "fail":
		return FailFail, nil
	}
	return 0, errors.Errorf("unknown fail policy %q", s)
}

func (p FailPolicy) String() string {
	switch p {
	case FailIgnore:
		return "ignore"
	case FailWarn:
		return "warn"
	case FailFail:
		return "fail"
	}
	return "unknown"
}

type failSafeParser struct {
	delegate SqlParser
	policy   FailPolicy
	log      logger.Interface
}

// NewFailSafeParser wraps delegate so its failures follow policy.
// Hint syntax errors are always returned, whatever the policy.
func NewFailSafeParser(delegate SqlParser, policy FailPolicy, log logger.Interface) SqlParser {
	if delegate == nil {
		delegate = DefaultSqlParser{}
	}
	if log == nil {
		log = logger.Discard
	}
	return &failSafeParser{delegate: delegate, policy: policy, log: log}
}

func (p *failSafeParser) Parse(sql string) (attr *SqlAttribute, err error) {
	defer func() {
		if r := recover(); r != nil {
			attr, err = p.fallback(sql, errors.Wrapf(ErrSqlClassification, "panic: %v", r))
		}
	}()
	attr, err = p.delegate.Parse(sql)
	if err == nil {
		return attr, nil
	}
	if errors.Is(err, ErrHintParse) {
		return nil, err
	}
	return p.fallback(sql, err)
}

func (p *failSafeParser) fallback(sql string, cause error) (*SqlAttribute, error) {
	switch p.policy {
	case FailFail:
		if !errors.Is(cause, ErrSqlClassification) {
			cause = errors.Wrap(ErrSqlClassification, cause.Error())
		}
		return nil, cause
	case FailWarn:
		p.log.Warn(context.Background(), "sql classification failed, routing as write: %v [sql: %s]", cause, sql)
	}
	return conservativeAttribute(sql), nil
}
