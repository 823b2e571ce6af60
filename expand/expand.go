package expand

import (
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/callbacks"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// PreBuildSql
//
//	@Description: 在执行前构造SQL，用于路由；已有SQL(Raw/Exec)时直接返回
//	@param db
//	@return string 构造出的SQL，无法构造时为空
func PreBuildSql(db *gorm.DB) string {
	stmt := db.Statement
	if stmt.SQL.Len() > 0 || len(stmt.BuildClauses) == 0 {
		return stmt.SQL.String()
	}
	switch stmt.BuildClauses[0] {
	case "INSERT":
		buildCreate(stmt)
	case "UPDATE":
		// Model(&user).Update(...) 的主键条件依赖 ReflectValue 指向 Model
		callbacks.SetupUpdateReflectValue(db)
		buildUpdate(stmt)
	case "SELECT":
		callbacks.BuildQuerySQL(db)
	case "DELETE":
		buildDelete(stmt)
	}
	return stmt.SQL.String()
}

func buildCreate(stmt *gorm.Statement) {
	stmt.SQL.Grow(180)
	stmt.AddClauseIfNotExists(clause.Insert{})
	stmt.AddClause(callbacks.ConvertToCreateValues(stmt))
	stmt.Build(stmt.BuildClauses...)
}

// buildUpdate 无更新字段时不构造，交给gorm自身报错
func buildUpdate(stmt *gorm.Statement) {
	if _, ok := stmt.Clauses["SET"]; !ok {
		set := callbacks.ConvertToAssignments(stmt)
		if len(set) == 0 {
			return
		}
		stmt.AddClause(set)
	}
	stmt.SQL.Grow(180)
	stmt.AddClauseIfNotExists(clause.Update{})
	stmt.Build(stmt.BuildClauses...)
}

// buildDelete 主键条件与gorm delete回调保持一致
func buildDelete(stmt *gorm.Statement) {
	stmt.SQL.Grow(100)
	stmt.AddClauseIfNotExists(clause.Delete{})
	if stmt.Schema != nil {
		addPrimaryKeyCondition(stmt, stmt.ReflectValue)
		if stmt.ReflectValue.CanAddr() && stmt.Dest != stmt.Model && stmt.Model != nil {
			addPrimaryKeyCondition(stmt, reflect.ValueOf(stmt.Model))
		}
	}
	stmt.AddClauseIfNotExists(clause.From{})
	stmt.Build(stmt.BuildClauses...)
}

func addPrimaryKeyCondition(stmt *gorm.Statement, value reflect.Value) {
	_, queryValues := schema.GetIdentityFieldValuesMap(stmt.Context, value, stmt.Schema.PrimaryFields)
	column, values := schema.ToQueryValues(stmt.Table, stmt.Schema.PrimaryFieldDBNames, queryValues)
	if len(values) > 0 {
		stmt.AddClause(clause.Where{Exprs: []clause.Expression{clause.IN{Column: column, Values: values}}})
	}
}
