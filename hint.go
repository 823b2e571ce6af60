package dbrouter

import (
	"strings"

	"gorm/dbrouter/util/str"
)

const (
	hintPrefix = "/*!"
	hintSuffix = "*/"

	// HintNodeName is the hint key consumed by the hint rule.
	HintNodeName = "nodeName"
	// HintClusterName selects the cluster when the routing key names none.
	HintClusterName = "clusterName"
)

// SqlHint key/value directives from a leading /*!k=v;*/ comment
type SqlHint map[string]string

func (h SqlHint) Get(key string) (string, bool) {
	v, ok := h[key]
	return v, ok
}

func (h SqlHint) NodeName() string {
	return h[HintNodeName]
}

func (h SqlHint) ClusterName() string {
	return h[HintClusterName]
}

// ParseHint
//
//	@Description: 解析路由注释 /*!key1=value1;key2=value2;*/ select ...
//	@param sql
//	@return hint    空注释或无注释时为空map
//	@return nativeSql 去掉注释后的sql
//	@return err     *HintParseError
func ParseHint(sql string) (hint SqlHint, nativeSql string, err error) {
	hint = SqlHint{}
	trimmed := strings.TrimLeft(sql, " \t\r\n")
	if !strings.HasPrefix(trimmed, hintPrefix) {
		return hint, sql, nil
	}

	end := strings.Index(trimmed[len(hintPrefix):], hintSuffix)
	if end < 0 {
		return nil, "", &HintParseError{Sql: sql, Msg: "unterminated comment, missing */"}
	}
	body := trimmed[len(hintPrefix) : len(hintPrefix)+end]
	nativeSql = strings.TrimSpace(trimmed[len(hintPrefix)+end+len(hintSuffix):])

	for _, pair := range str.SplitTrim(body, ";") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, "", &HintParseError{Sql: sql, Pair: pair, Msg: "missing '='"}
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, "", &HintParseError{Sql: sql, Pair: pair, Msg: "empty key"}
		}
		hint[key] = strings.TrimSpace(value)
	}
	return hint, nativeSql, nil
}

// FormatHint renders hint as a routing comment prefix, keys in the given order.
func FormatHint(keysAndValues ...string) string {
	var b strings.Builder
	b.WriteString(hintPrefix)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		b.WriteString(keysAndValues[i])
		b.WriteByte('=')
		b.WriteString(keysAndValues[i+1])
		b.WriteByte(';')
	}
	b.WriteString(hintSuffix)
	return b.String()
}
