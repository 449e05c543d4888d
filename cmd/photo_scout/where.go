package main

import (
	"fmt"
	"strings"

	"photo-scout/internal/photo_scout/store"
)

// whereFlags 可重复的 -where 参数
type whereFlags []store.Predicate

func (w *whereFlags) String() string {
	parts := make([]string, 0, len(*w))
	for _, p := range *w {
		parts = append(parts, fmt.Sprintf("%s%s%v", p.Field, p.Op, p.Value))
	}
	return strings.Join(parts, ",")
}

func (w *whereFlags) Set(s string) error {
	p, err := parseWhere(s)
	if err != nil {
		return err
	}
	*w = append(*w, p)
	return nil
}

// 两字符的运算符要先于单字符匹配
var whereOps = []struct {
	token string
	op    store.Op
}{
	{"==", store.OpEq},
	{"!=", store.OpNe},
	{"<=", store.OpLte},
	{">=", store.OpGte},
	{"<", store.OpLt},
	{">", store.OpGt},
	{"=", store.OpEq},
}

func parseWhere(s string) (store.Predicate, error) {
	for _, o := range whereOps {
		i := strings.Index(s, o.token)
		if i <= 0 {
			continue
		}
		field := strings.TrimSpace(s[:i])
		value := strings.TrimSpace(s[i+len(o.token):])
		return store.WhereText(field, o.op, value), nil
	}
	return store.Predicate{}, fmt.Errorf("invalid filter %q, want field<op>value", s)
}
