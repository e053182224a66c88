// Package migrations 内嵌数据库迁移脚本（PostgreSQL、MySQL）。
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed postgres/*.sql mysql/*.sql
var files embed.FS

// Direction 迁移方向
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Script 单个迁移脚本
type Script struct {
	Name string
	SQL  string
}

// Load 按执行顺序返回指定数据库的迁移脚本；回滚时顺序相反。
func Load(dialect string, direction Direction) ([]Script, error) {
	if dialect != "postgres" && dialect != "mysql" {
		return nil, fmt.Errorf("unsupported database type: %s (supported: mysql, postgres)", dialect)
	}
	if direction != Up && direction != Down {
		return nil, fmt.Errorf("unsupported migration direction: %s", direction)
	}

	suffix := "." + string(direction) + ".sql"
	entries, err := fs.ReadDir(files, dialect)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), suffix) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	if direction == Down {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	}

	scripts := make([]Script, 0, len(names))
	for _, name := range names {
		content, err := files.ReadFile(dialect + "/" + name)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, Script{Name: name, SQL: string(content)})
	}
	return scripts, nil
}

// Statements 按分号拆分脚本，忽略空语句和注释行。
//
// MySQL 驱动默认不允许一次执行多条语句。
func Statements(script string) []string {
	var statements []string
	for _, part := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				lines = append(lines, line)
			}
		}
		if stmt := strings.TrimSpace(strings.Join(lines, "\n")); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
